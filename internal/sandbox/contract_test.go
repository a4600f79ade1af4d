package sandbox

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
)

// contract is one request against the sandbox API and the response shape the
// suite's clients rely on.
type contract struct {
	Name   string
	Method string
	Path   string
	Role   actor.Role
	Body   any
	Status int
	Schema string
}

const (
	errorSchema = `{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string", "minLength": 1}}
	}`
	loginSchema = `{
		"type": "object",
		"required": ["data"],
		"properties": {"data": {
			"type": "object",
			"required": ["token", "role"],
			"properties": {"token": {"type": "string", "minLength": 20}, "role": {"type": "string"}}
		}}
	}`
	shotSchema = `{
		"type": "object",
		"required": ["id", "name", "type", "status", "hod", "complexity", "actualStartFrame", "actualEndFrame"],
		"properties": {
			"id": {"type": "integer"},
			"name": {"type": "string", "minLength": 1},
			"status": {"enum": ["YTA", "ATS", "ATL"]},
			"actualStartFrame": {"type": "integer"},
			"actualEndFrame": {"type": "integer"}
		}
	}`
	shotListSchema = `{
		"type": "object",
		"required": ["data"],
		"properties": {"data": {"type": "array", "items": ` + shotSchema + `}}
	}`
)

func runContracts(t *testing.T, app *App, contracts []contract) {
	for _, c := range contracts {
		t.Run(c.Name, func(t *testing.T) {
			var token string
			if c.Role != "" {
				token = login(t, app, c.Role)
			}
			w := sendJSON(t, app.Handler(), c.Method, c.Path, token, c.Body)
			require.Equal(t, c.Status, w.Code, w.Body.String())
			if c.Schema == "" {
				return
			}
			res, err := gojsonschema.Validate(
				gojsonschema.NewStringLoader(c.Schema),
				gojsonschema.NewBytesLoader(w.Body.Bytes()),
			)
			require.NoError(t, err)
			assert.True(t, res.Valid(), "%v", res.Errors())
		})
	}
}

func TestAPIContracts(t *testing.T) {
	app := NewApp(users, Options{})
	shot := map[string]any{"name": "F7_100", "type": "NEW", "actualStartFrame": 1300, "actualEndFrame": 1600, "complexityId": 3}

	runContracts(t, app, []contract{
		{Name: "login", Method: http.MethodPost, Path: "/api/login", Body: users[actor.RoleHead], Status: http.StatusOK, Schema: loginSchema},
		{Name: "login wrong password", Method: http.MethodPost, Path: "/api/login",
			Body: actor.Credentials{Email: users[actor.RoleHead].Email, Password: "nope"}, Status: http.StatusUnauthorized, Schema: errorSchema},
		{Name: "list without token", Method: http.MethodGet, Path: "/api/shots", Status: http.StatusUnauthorized, Schema: errorSchema},
		{Name: "create as admin", Method: http.MethodPost, Path: "/api/shots", Role: actor.RoleAdmin, Body: shot, Status: http.StatusCreated, Schema: shotSchema},
		{Name: "create duplicate", Method: http.MethodPost, Path: "/api/shots", Role: actor.RoleAdmin, Body: shot, Status: http.StatusConflict, Schema: errorSchema},
		{Name: "create as head", Method: http.MethodPost, Path: "/api/shots", Role: actor.RoleHead, Body: shot, Status: http.StatusForbidden, Schema: errorSchema},
		{Name: "create without name", Method: http.MethodPost, Path: "/api/shots", Role: actor.RoleAdmin,
			Body: map[string]any{"type": "NEW"}, Status: http.StatusBadRequest, Schema: errorSchema},
		{Name: "list", Method: http.MethodGet, Path: "/api/shots", Role: actor.RoleTeamLead, Status: http.StatusOK, Schema: shotListSchema},
		{Name: "team lead assigns supervisor", Method: http.MethodPut, Path: "/api/shots/F7_100/roles", Role: actor.RoleTeamLead,
			Body: map[string]string{"supervisor": "Mitchel John"}, Status: http.StatusForbidden, Schema: errorSchema},
	})
}
