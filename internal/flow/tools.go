package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

// RegisterDefaultTools wires the standard enrollment toolset into the
// registry: funnel state tools, catalog lookup tools, and registration.
func RegisterDefaultTools(registry *ToolRegistry, funnel FunnelManager, st store.Store) {
	registry.Register(&Tool{
		Name: "get_user_step",
		Descriptions: map[string]string{
			LangEnglish: "Returns the user's current enrollment step.",
			LangFrench:  "Renvoie l'étape d'inscription actuelle de l'utilisateur.",
			LangArabic:  "تعيد خطوة التسجيل الحالية للمستخدم.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			step, err := funnel.GetCurrentStep(ctx, waID)
			if err != nil {
				return "", err
			}
			return string(step), nil
		},
	})

	registry.Register(&Tool{
		Name: "set_user_step",
		Descriptions: map[string]string{
			LangEnglish: "Moves the user to the given enrollment step. Usage: {set_user_step:step_name}.",
			LangFrench:  "Déplace l'utilisateur vers l'étape d'inscription donnée. Usage : {set_user_step:step_name}.",
			LangArabic:  "تنقل المستخدم إلى خطوة التسجيل المحددة. الاستخدام: {set_user_step:step_name}.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			step := models.FunnelStep(args[0])
			if err := funnel.SetStep(ctx, waID, step); err != nil {
				return "", err
			}
			return fmt.Sprintf("user step set to %s", step), nil
		},
	})

	registry.Register(&Tool{
		Name: "advance_to_next_step",
		Descriptions: map[string]string{
			LangEnglish: "Advances the user to the next enrollment step.",
			LangFrench:  "Fait passer l'utilisateur à l'étape d'inscription suivante.",
			LangArabic:  "تنقل المستخدم إلى خطوة التسجيل التالية.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			step, err := funnel.Advance(ctx, waID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("user advanced to %s", step), nil
		},
	})

	registry.Register(&Tool{
		Name: "update_user_info",
		Descriptions: map[string]string{
			LangEnglish: "Stores personal details as they are shared. Usage: {update_user_info:field=value} with fields full_name, email, phone, age, location, program.",
			LangFrench:  "Enregistre les informations personnelles au fur et à mesure. Usage : {update_user_info:field=value} avec les champs full_name, email, phone, age, location, program.",
			LangArabic:  "تحفظ المعلومات الشخصية عند مشاركتها. الاستخدام: {update_user_info:field=value} مع الحقول full_name وemail وphone وage وlocation وprogram.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			updated, err := applyFieldUpdates(ctx, funnel, waID, args)
			if err != nil {
				return "", err
			}
			complete, missing, err := funnel.VerifyCompleteness(ctx, waID)
			if err != nil {
				return "", err
			}
			if complete {
				return fmt.Sprintf("updated %s; all required fields collected", strings.Join(updated, ", ")), nil
			}
			return fmt.Sprintf("updated %s; still missing: %s", strings.Join(updated, ", "), strings.Join(missing, ", ")), nil
		},
	})

	registry.Register(&Tool{
		Name: "get_bootcamp_info",
		Descriptions: map[string]string{
			LangEnglish: "Returns general information about the bootcamp and its program catalog.",
			LangFrench:  "Renvoie des informations générales sur le bootcamp et son catalogue de programmes.",
			LangArabic:  "تعيد معلومات عامة عن المعسكر التدريبي وبرامجه.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			programs, err := st.ListPrograms()
			if err != nil {
				return "", err
			}
			return marshalToolData(map[string]interface{}{
				"program_count": len(programs),
				"programs":      programs,
			})
		},
	})

	registry.Register(&Tool{
		Name: "get_available_sessions",
		Descriptions: map[string]string{
			LangEnglish: "Lists program sessions that still have open spots.",
			LangFrench:  "Liste les sessions de programme ayant encore des places disponibles.",
			LangArabic:  "تعرض الدورات التي لا تزال بها أماكن متاحة.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			programs, err := st.ListPrograms()
			if err != nil {
				return "", err
			}
			available := make([]models.Program, 0, len(programs))
			for _, p := range programs {
				if p.AvailableSpots > 0 {
					available = append(available, p)
				}
			}
			return marshalToolData(available)
		},
	})

	registry.Register(&Tool{
		Name: "get_program_details",
		Descriptions: map[string]string{
			LangEnglish: "Returns full details for one program. Usage: {get_program_details:program_id_or_name}.",
			LangFrench:  "Renvoie tous les détails d'un programme. Usage : {get_program_details:program_id_or_name}.",
			LangArabic:  "تعيد التفاصيل الكاملة لبرنامج واحد. الاستخدام: {get_program_details:program_id_or_name}.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			program, err := resolveProgram(st, args[0])
			if err != nil {
				return "", err
			}
			return marshalToolData(program)
		},
	})

	registry.Register(&Tool{
		Name: "search_programs",
		Descriptions: map[string]string{
			LangEnglish: "Searches the catalog by program name or city. Usage: {search_programs:query}.",
			LangFrench:  "Recherche dans le catalogue par nom de programme ou par ville. Usage : {search_programs:query}.",
			LangArabic:  "تبحث في الكتالوج حسب اسم البرنامج أو المدينة. الاستخدام: {search_programs:query}.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			programs, err := st.ListPrograms()
			if err != nil {
				return "", err
			}
			matches := RankPrograms(programs, args[0])
			if len(matches) == 0 {
				return "", store.ErrProgramNotFound
			}
			return marshalToolData(matches)
		},
	})

	registry.Register(&Tool{
		Name: "register_student",
		Descriptions: map[string]string{
			LangEnglish: "Registers the student once all details are confirmed. Usage: {register_student:location,first_name,last_name,email,phone,age}.",
			LangFrench:  "Inscrit l'étudiant une fois tous les détails confirmés. Usage : {register_student:location,first_name,last_name,email,phone,age}.",
			LangArabic:  "تسجل الطالب بعد تأكيد جميع البيانات. الاستخدام: {register_student:location,first_name,last_name,email,phone,age}.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			location, firstName, lastName, email, phone, age := args[0], args[1], args[2], args[3], args[4], args[5]

			programs, err := st.ListPrograms()
			if err != nil {
				return "", err
			}
			matches := RankPrograms(programs, location)
			var program *models.Program
			for i := range matches {
				if matches[i].Program.AvailableSpots > 0 {
					program = &matches[i].Program
					break
				}
			}
			if program == nil {
				if len(matches) > 0 {
					return "", store.ErrNoSpotsAvailable
				}
				return "", store.ErrProgramNotFound
			}

			reg := &models.Registration{
				ProgramID: program.ID,
				WaID:      waID,
				FirstName: firstName,
				LastName:  lastName,
				Email:     email,
				Phone:     phone,
				Age:       age,
			}
			if err := st.CreateRegistration(reg); err != nil {
				if errors.Is(err, store.ErrAlreadyRegistered) {
					if markErr := funnel.MarkAlreadyRegistered(ctx, waID); markErr != nil {
						slog.Error("register_student: failed to park already-registered user", "error", markErr, "waID", waID)
					}
				}
				return "", err
			}

			if err := funnel.SetStep(ctx, waID, models.StepEnrollmentComplete); err != nil {
				slog.Error("register_student: failed to complete funnel", "error", err, "waID", waID)
			}
			slog.Info("register_student: registration created", "waID", waID, "programID", program.ID, "regID", reg.ID)
			return marshalToolData(map[string]interface{}{
				"registration_id": reg.ID,
				"program":         program,
			})
		},
	})
}

// applyFieldUpdates applies update_user_info arguments. Each argument is a
// field=value pair; a bare two-argument call is treated as one field/value pair.
func applyFieldUpdates(ctx context.Context, funnel FunnelManager, waID string, args []string) ([]string, error) {
	type pair struct{ field, value string }
	var pairs []pair
	if len(args) == 2 && !strings.Contains(args[0], "=") && !strings.Contains(args[1], "=") {
		pairs = append(pairs, pair{args[0], args[1]})
	} else {
		for _, arg := range args {
			idx := strings.Index(arg, "=")
			if idx <= 0 {
				return nil, &UnknownFieldError{Field: arg}
			}
			pairs = append(pairs, pair{strings.TrimSpace(arg[:idx]), strings.TrimSpace(arg[idx+1:])})
		}
	}
	if len(pairs) == 0 {
		return nil, &UnknownFieldError{Field: ""}
	}
	updated := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if err := funnel.UpdateField(ctx, waID, p.field, p.value); err != nil {
			return nil, err
		}
		updated = append(updated, p.field)
	}
	return updated, nil
}

// resolveProgram finds a program by numeric id or by fuzzy name/location match.
func resolveProgram(st store.Store, ref string) (*models.Program, error) {
	if id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64); err == nil {
		return st.GetProgram(id)
	}
	programs, err := st.ListPrograms()
	if err != nil {
		return nil, err
	}
	matches := RankPrograms(programs, ref)
	if len(matches) == 0 {
		return nil, store.ErrProgramNotFound
	}
	return &matches[0].Program, nil
}

// marshalToolData renders structured tool output as JSON for the model.
func marshalToolData(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool data: %w", err)
	}
	return string(data), nil
}
