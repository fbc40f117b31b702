package pipefile

import (
	"strings"

	"github.com/pipewatch/pipewatch/internal/glob"
	"github.com/pipewatch/pipewatch/internal/model"
)

// defaultVersion is applied when the metadata block omits `version`.
const defaultVersion = "1.0"

// Parse turns Pipefile source into a validated PipelineDefinition.
// Parsing is pure and deterministic; every failure is a *ParseError.
func Parse(src string) (*model.PipelineDefinition, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	def, err := p.parseFile()
	if err != nil {
		return nil, err
	}
	return def, nil
}

// parser is a single-token-lookahead recursive-descent parser over the
// lexer's token stream.
type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// expect consumes a token of the given kind or fails with what was
// expected at the current position.
func (p *parser) expect(kind tokenKind) (token, error) {
	if p.tok.kind != kind {
		return token{}, errorAt(p.tok.pos, "expected %s, found %s", kind, p.describeCurrent())
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// expectKeyword consumes an identifier with the given name.
func (p *parser) expectKeyword(name string) (token, error) {
	if p.tok.kind != tokenIdent || p.tok.text != name {
		return token{}, errorAt(p.tok.pos, "expected %q, found %s", name, p.describeCurrent())
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) describeCurrent() string {
	if p.tok.kind == tokenIdent {
		return `"` + p.tok.text + `"`
	}
	if p.tok.kind == tokenString || p.tok.kind == tokenMultiline {
		return p.tok.kind.String()
	}
	return p.tok.kind.String()
}

// parseFile recognizes: `pipeline { metadata* triggers? steps }`.
func (p *parser) parseFile() (*model.PipelineDefinition, error) {
	blockTok, err := p.expectKeyword("pipeline")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLBrace); err != nil {
		return nil, err
	}

	def := &model.PipelineDefinition{Version: defaultVersion}
	var (
		trig      *gitTriggers
		sawSteps  bool
		stepNames = map[string]position{}
	)

	for p.tok.kind != tokenRBrace {
		if p.tok.kind != tokenIdent {
			return nil, errorAt(p.tok.pos, "expected %q, %q, %q, or %q, found %s",
				"name", "version", "triggers", "steps", p.describeCurrent())
		}
		switch p.tok.text {
		case "name":
			value, err := p.parseStringField()
			if err != nil {
				return nil, err
			}
			def.Name = value
		case "version":
			value, err := p.parseStringField()
			if err != nil {
				return nil, err
			}
			def.Version = value
		case "triggers":
			if trig != nil {
				return nil, errorAt(p.tok.pos, "duplicate triggers block")
			}
			trig, err = p.parseTriggers()
			if err != nil {
				return nil, err
			}
		case "steps":
			if sawSteps {
				return nil, errorAt(p.tok.pos, "duplicate steps block")
			}
			sawSteps = true
			def.Steps, err = p.parseSteps(stepNames)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errorAt(p.tok.pos, "unexpected %q in pipeline block", p.tok.text)
		}
	}
	if _, err := p.expect(tokenRBrace); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	if def.Name == "" {
		return nil, errorAt(blockTok.pos, "pipeline name is required")
	}
	if !sawSteps || len(def.Steps) == 0 {
		return nil, errorAt(blockTok.pos, "pipeline must declare at least one step")
	}

	if trig != nil {
		def.Rules, err = trig.expand()
		if err != nil {
			return nil, err
		}
	}
	return def, nil
}

// parseStringField recognizes: `<ident> : STRING ;`.
func (p *parser) parseStringField() (string, error) {
	if err := p.advance(); err != nil { // field name
		return "", err
	}
	if _, err := p.expect(tokenColon); err != nil {
		return "", err
	}
	value, err := p.expect(tokenString)
	if err != nil {
		return "", err
	}
	if _, err := p.expect(tokenSemi); err != nil {
		return "", err
	}
	return value.text, nil
}

// parseBoolField recognizes: `<ident> : (true|false) ;`.
func (p *parser) parseBoolField() (bool, error) {
	if err := p.advance(); err != nil { // field name
		return false, err
	}
	if _, err := p.expect(tokenColon); err != nil {
		return false, err
	}
	if p.tok.kind != tokenIdent || (p.tok.text != "true" && p.tok.text != "false") {
		return false, errorAt(p.tok.pos, "expected \"true\" or \"false\", found %s", p.describeCurrent())
	}
	value := p.tok.text == "true"
	if err := p.advance(); err != nil {
		return false, err
	}
	if _, err := p.expect(tokenSemi); err != nil {
		return false, err
	}
	return value, nil
}

// parseStringList recognizes: `<ident> : [ STRING (, STRING)* ] ;`.
// Each returned entry keeps the position of its string token so
// validation can point at a malformed pattern precisely.
func (p *parser) parseStringList() ([]patternLiteral, error) {
	if err := p.advance(); err != nil { // field name
		return nil, err
	}
	if _, err := p.expect(tokenColon); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLBracket); err != nil {
		return nil, err
	}

	var items []patternLiteral
	for p.tok.kind != tokenRBracket {
		value, err := p.expect(tokenString)
		if err != nil {
			return nil, err
		}
		items = append(items, patternLiteral{text: value.text, pos: value.pos})
		if p.tok.kind == tokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokenRBracket); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenSemi); err != nil {
		return nil, err
	}
	return items, nil
}

// parseTriggers recognizes: `triggers { git { ... } }`.
func (p *parser) parseTriggers() (*gitTriggers, error) {
	if err := p.advance(); err != nil { // "triggers"
		return nil, err
	}
	if _, err := p.expect(tokenLBrace); err != nil {
		return nil, err
	}

	trig := &gitTriggers{}
	if p.tok.kind == tokenIdent && p.tok.text == "git" {
		if err := p.parseGit(trig); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokenRBrace); err != nil {
		return nil, err
	}
	return trig, nil
}

func (p *parser) parseGit(trig *gitTriggers) error {
	if err := p.advance(); err != nil { // "git"
		return err
	}
	if _, err := p.expect(tokenLBrace); err != nil {
		return err
	}

	flags := map[string]*bool{
		"on_push":          &trig.onPush,
		"on_pull_request":  &trig.onPullRequest,
		"on_merge":         &trig.onMerge,
		"on_tag":           &trig.onTag,
		"on_release":       &trig.onRelease,
		"on_branch_create": &trig.onBranchCreate,
		"on_branch_delete": &trig.onBranchDelete,
	}

	for p.tok.kind != tokenRBrace {
		if p.tok.kind != tokenIdent {
			return errorAt(p.tok.pos, "expected a trigger field, found %s", p.describeCurrent())
		}
		if flag, ok := flags[p.tok.text]; ok {
			value, err := p.parseBoolField()
			if err != nil {
				return err
			}
			*flag = value
			continue
		}
		switch p.tok.text {
		case "branches":
			items, err := p.parseStringList()
			if err != nil {
				return err
			}
			trig.branches = items
		case "tags":
			items, err := p.parseStringList()
			if err != nil {
				return err
			}
			trig.tags = items
		default:
			return errorAt(p.tok.pos, "unknown trigger field %q", p.tok.text)
		}
	}
	_, err := p.expect(tokenRBrace)
	return err
}

// parseSteps recognizes: `steps { step* }`, recording each step name's
// position for duplicate detection.
func (p *parser) parseSteps(seen map[string]position) ([]model.Step, error) {
	if err := p.advance(); err != nil { // "steps"
		return nil, err
	}
	if _, err := p.expect(tokenLBrace); err != nil {
		return nil, err
	}

	var steps []model.Step
	for p.tok.kind != tokenRBrace {
		step, err := p.parseStep(seen)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if _, err := p.expect(tokenRBrace); err != nil {
		return nil, err
	}
	return steps, nil
}

// parseStep recognizes: `step STRING { run: ...; allow_failure?: ...; }`.
func (p *parser) parseStep(seen map[string]position) (model.Step, error) {
	if _, err := p.expectKeyword("step"); err != nil {
		return model.Step{}, err
	}
	nameTok, err := p.expect(tokenString)
	if err != nil {
		return model.Step{}, err
	}
	if nameTok.text == "" {
		return model.Step{}, errorAt(nameTok.pos, "step name cannot be empty")
	}
	if _, dup := seen[nameTok.text]; dup {
		return model.Step{}, errorAt(nameTok.pos, "duplicate step name %q", nameTok.text)
	}
	seen[nameTok.text] = nameTok.pos

	if _, err := p.expect(tokenLBrace); err != nil {
		return model.Step{}, err
	}

	step := model.Step{Name: nameTok.text}
	sawRun := false
	for p.tok.kind != tokenRBrace {
		if p.tok.kind != tokenIdent {
			return model.Step{}, errorAt(p.tok.pos, "expected %q or %q, found %s", "run", "allow_failure", p.describeCurrent())
		}
		switch p.tok.text {
		case "run":
			runTok, err := p.parseRunField()
			if err != nil {
				return model.Step{}, err
			}
			step.Commands = splitCommands(runTok.text)
			if len(step.Commands) == 0 {
				return model.Step{}, errorAt(runTok.pos, "step %q has an empty run block", step.Name)
			}
			sawRun = true
		case "allow_failure":
			value, err := p.parseBoolField()
			if err != nil {
				return model.Step{}, err
			}
			step.AllowFailure = value
		default:
			return model.Step{}, errorAt(p.tok.pos, "unknown step field %q", p.tok.text)
		}
	}
	if _, err := p.expect(tokenRBrace); err != nil {
		return model.Step{}, err
	}
	if !sawRun {
		return model.Step{}, errorAt(nameTok.pos, "step %q is missing a run block", step.Name)
	}
	return step, nil
}

// parseRunField recognizes: `run : (MULTILINE|STRING) ;`.
func (p *parser) parseRunField() (token, error) {
	if err := p.advance(); err != nil { // "run"
		return token{}, err
	}
	if _, err := p.expect(tokenColon); err != nil {
		return token{}, err
	}
	if p.tok.kind != tokenMultiline && p.tok.kind != tokenString {
		return token{}, errorAt(p.tok.pos, "expected a string or multiline string, found %s", p.describeCurrent())
	}
	runTok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	if _, err := p.expect(tokenSemi); err != nil {
		return token{}, err
	}
	return runTok, nil
}

// splitCommands turns the raw run block into the ordered command list:
// one command per non-empty line, surrounding whitespace trimmed.
func splitCommands(raw string) []string {
	var commands []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			commands = append(commands, line)
		}
	}
	return commands
}

// patternLiteral is a branches/tags entry with its source position.
type patternLiteral struct {
	text string
	pos  position
}

// gitTriggers is the raw git trigger declaration before expansion into
// model.TriggerRule values.
type gitTriggers struct {
	onPush         bool
	onPullRequest  bool
	onMerge        bool
	onTag          bool
	onRelease      bool
	onBranchCreate bool
	onBranchDelete bool
	branches       []patternLiteral
	tags           []patternLiteral
}

// expand compiles patterns and produces rules in a fixed kind order so
// the result is deterministic for identical input.
func (t *gitTriggers) expand() ([]model.TriggerRule, error) {
	branchPats, err := compilePatterns(t.branches)
	if err != nil {
		return nil, err
	}
	tagPats, err := compilePatterns(t.tags)
	if err != nil {
		return nil, err
	}

	var rules []model.TriggerRule
	if t.onPush {
		for _, pat := range branchPats {
			rules = append(rules, model.PushRule{Branch: pat})
		}
	}
	if t.onPullRequest {
		for _, pat := range branchPats {
			rules = append(rules, model.PullRequestRule{Target: pat})
		}
	}
	if t.onMerge {
		for _, pat := range branchPats {
			rules = append(rules, model.MergeRule{Target: pat})
		}
	}
	if t.onTag {
		for _, pat := range tagPats {
			rules = append(rules, model.TagRule{Tag: pat})
		}
	}
	if t.onRelease {
		for _, pat := range tagPats {
			rules = append(rules, model.ReleaseRule{Tag: pat})
		}
	}
	if t.onBranchCreate {
		for _, pat := range branchPats {
			rules = append(rules, model.BranchCreatedRule{Branch: pat})
		}
	}
	if t.onBranchDelete {
		for _, pat := range branchPats {
			rules = append(rules, model.BranchDeletedRule{Branch: pat})
		}
	}
	return rules, nil
}

// compilePatterns compiles each literal, reporting malformed globs with
// their source position. An absent list yields the single nil pattern,
// i.e. "match every event of this kind".
func compilePatterns(literals []patternLiteral) ([]*glob.Pattern, error) {
	if len(literals) == 0 {
		return []*glob.Pattern{nil}, nil
	}
	patterns := make([]*glob.Pattern, len(literals))
	for i, lit := range literals {
		pat, err := glob.Compile(lit.text)
		if err != nil {
			return nil, errorAt(lit.pos, "malformed pattern %q: %v", lit.text, err)
		}
		patterns[i] = pat
	}
	return patterns, nil
}
