package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"studioflow/internal/catalog"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"cannot move stage of a finished or cancelled project"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Studioflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Studioflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerTimeEntries(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's typed errors onto the wire envelope. All of
// them are expected conditions; only unknown failures become 500s.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", msg, nil)
	case errors.Is(err, engine.ErrDuplicateStage):
		return newAPIError(http.StatusConflict, "duplicate_stage", msg, nil)
	case errors.Is(err, engine.ErrMissingWorkflow):
		return newAPIError(http.StatusUnprocessableEntity, "missing_workflow", msg, nil)
	case errors.Is(err, engine.ErrInvalidStage):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_stage", msg, nil)
	case errors.Is(err, engine.ErrInvalidHours):
		return newAPIError(http.StatusBadRequest, "invalid_hours", msg, nil)
	case errors.Is(err, engine.ErrFutureDate):
		return newAPIError(http.StatusBadRequest, "future_date", msg, nil)
	case errors.Is(err, catalog.ErrUnknownService):
		return newAPIError(http.StatusBadRequest, "unknown_service_type", msg, nil)
	}
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Studioflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog-stages",
		Method:      http.MethodGet,
		Path:        "/catalog/{service_type}/stages",
		Summary:     "Catalog stage sequence for a service type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ServiceType string `path:"service_type"`
		Modality    string `query:"modality"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		stages, err := e.Catalog.StagesFor(input.ServiceType, input.Modality)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: stages}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ClientName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_name is required", nil)
		}
		if input.Body.ServiceType == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "service_type is required", nil)
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			OrgID:       principal.OrgID,
			ClientName:  input.Body.ClientName,
			ServiceType: input.Body.ServiceType,
			Modality:    stringOrEmpty(input.Body.Modality),
			Description: stringOrEmpty(input.Body.Description),
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"active,completed,cancelled"`
		ServiceType     string `query:"service_type"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, principal.OrgID, repo.ProjectFilters{
			Status:          input.Status,
			ServiceType:     input.ServiceType,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, principal.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel project",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CancelProject(ctx, principal.OrgID, input.ProjectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "move-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stage",
		Summary:     "Move project to a stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      MoveStageRequest `json:"body"`
	}) (*struct {
		Body StageMoveResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.StageID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage_id is required", nil)
		}
		res, err := e.MoveToStage(ctx, principal.OrgID, input.ProjectID, input.Body.StageID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageMoveResponse `json:"body"`
		}{Body: StageMoveResponse{NewStageID: res.NewStageID, NewStatus: res.NewStatus}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "insert-stage",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/stages",
		Summary:       "Insert a custom stage into the project workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      InsertStageRequest `json:"body"`
	}) (*struct {
		Body StagesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID == "" || input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id and name are required", nil)
		}
		colorTag := input.Body.ColorTag
		if colorTag == "" {
			colorTag = "gray"
		}
		stages, err := e.InsertStage(ctx, engine.StageInsertOptions{
			OrgID:     principal.OrgID,
			ProjectID: input.ProjectID,
			Stage: domain.Stage{
				ID:          input.Body.ID,
				Name:        input.Body.Name,
				ColorTag:    colorTag,
				Description: stringOrEmpty(input.Body.Description),
			},
			Position: input.Body.Position,
			ActorID:  principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, principal.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StagesResponse `json:"body"`
		}{Body: StagesResponse{Stages: stages, CurrentStageIndex: p.Workflow.CurrentStageIndex}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "List the project's stage sequence",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body StagesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, principal.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.Workflow == nil {
			return nil, handleError(engine.ErrMissingWorkflow)
		}
		return &struct {
			Body StagesResponse `json:"body"`
		}{Body: StagesResponse{Stages: p.Workflow.Stages, CurrentStageIndex: p.Workflow.CurrentStageIndex}}, nil
	})
}

func registerTimeEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-time-entry",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/time-entries",
		Summary:       "Record labor hours",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      CreateTimeEntryRequest `json:"body"`
	}) (*struct {
		Body TimeEntryResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Date == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "date is required", nil)
		}
		te, err := e.RecordTime(ctx, engine.TimeEntryOptions{
			OrgID:       principal.OrgID,
			ProjectID:   input.ProjectID,
			StageID:     stringOrEmpty(input.Body.StageID),
			Hours:       input.Body.Hours,
			Date:        input.Body.Date,
			Description: stringOrEmpty(input.Body.Description),
			AuthorID:    principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeEntryResponse `json:"body"`
		}{Body: timeEntryResponse(te)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-time-entries",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/time-entries",
		Summary:     "List time entries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []TimeEntryResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, principal.OrgID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTimeEntries(ctx, principal.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TimeEntryResponse `json:"body"`
		}{Body: mapTimeEntries(items)}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-timeline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/timeline",
		Summary:     "Merged activity timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body TimelineResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Timeline(ctx, principal.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimelineResponse `json:"body"`
		}{Body: timelineResponse(res)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Raw activity log, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, principal.OrgID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, principal.OrgID, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-member",
		Method:      http.MethodPut,
		Path:        "/members/{member_id}",
		Summary:     "Register a member display name",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		MemberID string              `path:"member_id"`
		Body     UpsertMemberRequest `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m := domain.Member{ID: input.MemberID, OrgID: principal.OrgID, Name: input.Body.Name}
		if err := e.EnsureMember(ctx, m); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.EnableDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development JWT",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		orgID := input.Body.OrgID
		if orgID == "" {
			orgID = cfg.DefaultOrgID
		}
		token, err := issueJWT(cfg.JWTSecret, input.Body.ActorID, orgID, input.Body.Name, 24*time.Hour, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
