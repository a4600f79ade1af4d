package browser

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
)

func TestTextArg(t *testing.T) {
	re := regexp.MustCompile(`(?i)shots?`)
	tests := []struct {
		name      string
		filter    locator.TextFilter
		wantStr   string
		wantRe    string
		wantExact *bool
	}{
		{name: "pattern", filter: locator.Matching(re), wantRe: `(?i)shots?`},
		{name: "exact", filter: locator.Exact("Sign in"), wantStr: "Sign in", wantExact: boolPtr(true)},
		{name: "case sensitive", filter: locator.ContainsCase("F7_1.2"), wantRe: `F7_1\.2`},
		{name: "contains", filter: locator.Contains("team"), wantStr: "team", wantExact: boolPtr(false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, exact := textArg(tt.filter)
			if tt.wantRe != "" {
				r, ok := v.(*regexp.Regexp)
				require.True(t, ok)
				assert.Equal(t, tt.wantRe, r.String())
				assert.Nil(t, exact)
				return
			}
			assert.Equal(t, tt.wantStr, v)
			assert.Equal(t, tt.wantExact, exact)
		})
	}
}

func TestHasTextExactAnchors(t *testing.T) {
	v := hasText(locator.Exact("Change Status"))
	re, ok := v.(*regexp.Regexp)
	require.True(t, ok)
	assert.True(t, re.MatchString("  Change Status "))
	assert.False(t, re.MatchString("Change Status now"))

	assert.Equal(t, "select", hasText(locator.Contains("select")))
}

func TestBudget(t *testing.T) {
	assert.Equal(t, 10*time.Second, budget(context.Background(), 10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.LessOrEqual(t, budget(ctx, 10*time.Second), 2*time.Second)

	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()
	assert.Equal(t, time.Millisecond, budget(expired, 10*time.Second))
}

func TestIsLoginResponse(t *testing.T) {
	assert.True(t, isLoginResponse("https://x.test/api/login", 200))
	assert.True(t, isLoginResponse("https://x.test/v1/auth/login?next=/", 200))
	assert.False(t, isLoginResponse("https://x.test/api/login", 401))
	assert.False(t, isLoginResponse("https://x.test/api/shots", 200))
}

func boolPtr(b bool) *bool { return &b }
