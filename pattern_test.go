package cake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchAndGround(t *testing.T) {
	tests := []struct {
		name    string
		pat     string
		target  string
		wantOK  bool
		ground  string // str to ground against the resulting binding
		wantVal string
	}{
		{
			name:    "single stem",
			pat:     "%0.o",
			target:  "foo.o",
			wantOK:  true,
			ground:  "%0.c",
			wantVal: "foo.c",
		},
		{
			name:    "anonymous variable",
			pat:     "%.o",
			target:  "bar.o",
			wantOK:  true,
			ground:  "%.c",
			wantVal: "bar.c",
		},
		{
			name:   "literal mismatch",
			pat:    "%0.o",
			target: "bar.c",
			wantOK: false,
		},
		{
			name:    "two numbered variables",
			pat:     "lib%0-%1.a",
			target:  "libfoo-bar.a",
			wantOK:  true,
			ground:  "%0/%1",
			wantVal: "foo/bar",
		},
		{
			name:    "pure literal, no variable",
			pat:     "conf.h",
			target:  "conf.h",
			wantOK:  true,
			ground:  "conf.h.bak",
			wantVal: "conf.h.bak",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Env
			ok := match(&env, tt.target, &Pat{Str: tt.pat})
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			got, err := ground(&env, tt.ground)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVal, got)
		})
	}
}

func TestGroundUnboundVariableErrors(t *testing.T) {
	var env Env
	require.True(t, match(&env, "foo.o", &Pat{Str: "%0.o"}))
	_, err := ground(&env, "%1")
	assert.Error(t, err)
}

func TestMatchCmdPatternPanics(t *testing.T) {
	var env Env
	assert.Panics(t, func() {
		match(&env, "anything", &Pat{Str: "echo hi", Cmd: true})
	})
}

func TestBreakPat(t *testing.T) {
	assert.Equal(t, []string{"a.o", "b.o", "c.o"}, breakPat("a.o  b.o\tc.o\n"))
	assert.Equal(t, []string{}, breakPat("   "))
}
