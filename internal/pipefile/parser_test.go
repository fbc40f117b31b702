package pipefile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/internal/model"
)

const simplePipefile = `
pipeline {
  name: "test-pipeline";
  version: "1.0";
  triggers {
    git {
      on_push: true;
      branches: ["main"];
    }
  }
  steps {
    step "test" {
      run: """
        echo "test"
      """;
    }
  }
}
`

func TestParseSimplePipeline(t *testing.T) {
	def, err := Parse(simplePipefile)
	require.NoError(t, err)

	assert.Equal(t, "test-pipeline", def.Name)
	assert.Equal(t, "1.0", def.Version)
	require.Len(t, def.Rules, 1)
	rule, ok := def.Rules[0].(model.PushRule)
	require.True(t, ok)
	require.NotNil(t, rule.Branch)
	assert.Equal(t, "main", rule.Branch.String())

	require.Len(t, def.Steps, 1)
	assert.Equal(t, "test", def.Steps[0].Name)
	assert.Equal(t, []string{`echo "test"`}, def.Steps[0].Commands)
	assert.False(t, def.Steps[0].AllowFailure)
}

func TestParseComplexPipeline(t *testing.T) {
	input := `
pipeline {
  name: "build-and-deploy";
  version: "2.3";
  triggers {
    git {
      on_push: true;
      on_pull_request: true;
      on_merge: true;
      on_tag: true;
      on_release: true;
      on_branch_create: true;
      on_branch_delete: true;
      branches: ["main", "release/*"];
      tags: ["v*"];
    }
  }
  steps {
    step "install" {
      run: """
        npm install
        pip install -r requirements.txt
      """;
    }
    step "lint" {
      run: """npm run lint""";
      allow_failure: true;
    }
    step "build" {
      run: """npm run build""";
    }
  }
}
`
	def, err := Parse(input)
	require.NoError(t, err)

	assert.Equal(t, "build-and-deploy", def.Name)
	assert.Equal(t, "2.3", def.Version)

	// 5 branch-scoped kinds x 2 branch patterns + 2 tag-scoped kinds x 1 tag pattern.
	require.Len(t, def.Rules, 12)
	assert.IsType(t, model.PushRule{}, def.Rules[0])
	assert.IsType(t, model.PushRule{}, def.Rules[1])
	assert.IsType(t, model.PullRequestRule{}, def.Rules[2])
	assert.IsType(t, model.TagRule{}, def.Rules[6])
	tagRule := def.Rules[6].(model.TagRule)
	require.NotNil(t, tagRule.Tag)
	assert.Equal(t, "v*", tagRule.Tag.String())

	require.Len(t, def.Steps, 3)
	assert.Equal(t, []string{"npm install", "pip install -r requirements.txt"}, def.Steps[0].Commands)
	assert.True(t, def.Steps[1].AllowFailure)
	assert.False(t, def.Steps[2].AllowFailure)
}

func TestParseDefaults(t *testing.T) {
	input := `
pipeline {
  name: "minimal";
  steps {
    step "only" {
      run: """echo hi""";
    }
  }
}
`
	def, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, "1.0", def.Version, "version defaults when omitted")
	assert.Empty(t, def.Rules, "no triggers block means no rules")
}

func TestParseUnpatternedTrigger(t *testing.T) {
	input := `
pipeline {
  name: "any-push";
  triggers {
    git {
      on_push: true;
    }
  }
  steps {
    step "only" {
      run: """echo hi""";
    }
  }
}
`
	def, err := Parse(input)
	require.NoError(t, err)
	require.Len(t, def.Rules, 1)
	assert.Nil(t, def.Rules[0].Pattern(), "omitted branches list yields an unconditional rule")
}

func TestParseEmbeddedQuotes(t *testing.T) {
	input := `
pipeline {
  name: "quoting";
  steps {
    step "one" {
      run: """echo "step1"""";
    }
  }
}
`
	def, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, []string{`echo "step1"`}, def.Steps[0].Commands)
}

func TestParseIsDeterministic(t *testing.T) {
	first, err := Parse(simplePipefile)
	require.NoError(t, err)
	second, err := Parse(simplePipefile)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "empty input",
			input:   "",
			wantMsg: `expected "pipeline"`,
		},
		{
			name:    "garbage input",
			input:   "invalid syntax here",
			wantMsg: `expected "pipeline"`,
		},
		{
			name: "missing name",
			input: `pipeline {
  steps {
    step "a" { run: """echo hi"""; }
  }
}`,
			wantMsg: "pipeline name is required",
		},
		{
			name: "missing steps block",
			input: `pipeline {
  name: "x";
}`,
			wantMsg: "at least one step",
		},
		{
			name: "empty steps block",
			input: `pipeline {
  name: "x";
  steps {
  }
}`,
			wantMsg: "at least one step",
		},
		{
			name: "duplicate step names",
			input: `pipeline {
  name: "x";
  steps {
    step "build" { run: """a"""; }
    step "build" { run: """b"""; }
  }
}`,
			wantMsg: `duplicate step name "build"`,
		},
		{
			name: "step without run",
			input: `pipeline {
  name: "x";
  steps {
    step "build" { allow_failure: true; }
  }
}`,
			wantMsg: "missing a run block",
		},
		{
			name: "empty run block",
			input: `pipeline {
  name: "x";
  steps {
    step "build" { run: """
    """; }
  }
}`,
			wantMsg: "empty run block",
		},
		{
			name: "malformed branch pattern",
			input: `pipeline {
  name: "x";
  triggers {
    git {
      on_push: true;
      branches: ["fea***ture"];
    }
  }
  steps {
    step "a" { run: """echo hi"""; }
  }
}`,
			wantMsg: "malformed pattern",
		},
		{
			name: "missing semicolon",
			input: `pipeline {
  name: "x"
  steps {
    step "a" { run: """echo hi"""; }
  }
}`,
			wantMsg: `expected ";"`,
		},
		{
			name: "unterminated string",
			input: `pipeline {
  name: "x;
}`,
			wantMsg: "unterminated string",
		},
		{
			name: "unknown step field",
			input: `pipeline {
  name: "x";
  steps {
    step "a" { shell: "bash"; }
  }
}`,
			wantMsg: "unknown step field",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			def, err := Parse(tc.input)
			require.Error(t, err)
			assert.Nil(t, def, "no definition may be produced on failure")

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "all failures must be ParseErrors")
			assert.Positive(t, parseErr.Line)
			assert.Positive(t, parseErr.Column)
			assert.Contains(t, parseErr.Error(), tc.wantMsg)
		})
	}
}

func TestParseErrorLocation(t *testing.T) {
	input := `pipeline {
  name: "x";
  steps {
    step "a" { run: """echo hi"""; }
    step "a" { run: """echo again"""; }
  }
}`
	_, err := Parse(input)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 5, parseErr.Line)
	assert.Equal(t, 10, parseErr.Column)
}

func TestParseComments(t *testing.T) {
	input := `
# top-level comment
pipeline {
  name: "commented"; # trailing comment
  steps {
    step "a" {
      run: """echo hi""";
    }
  }
}
`
	def, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, "commented", def.Name)
}
