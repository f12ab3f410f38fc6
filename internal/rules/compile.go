package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mikey/phishguard/internal/core"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
)

var fieldKinds = map[core.Field]fieldKind{
	core.FieldSender:          kindString,
	core.FieldSubject:         kindString,
	core.FieldDomain:          kindString,
	core.FieldStatus:          kindString,
	core.FieldBody:            kindString,
	core.FieldRiskLevel:       kindString,
	core.FieldScore:           kindNumber,
	core.FieldURLCount:        kindNumber,
	core.FieldAttachmentCount: kindNumber,
	core.FieldSenderBlocked:   kindBool,
	core.FieldDomainTrusted:   kindBool,
}

type condition struct {
	field   core.Field
	kind    fieldKind
	op      core.Operator
	value   string
	values  []string
	number  float64
	numbers []float64
	re      *regexp.Regexp
}

type action struct {
	typ      core.ActionType
	status   core.EmailStatus
	label    string
	language string
	types    []core.RecipientType
	custom   string
	domain   string
}

// compiledRule is a rule whose operators, actions and regexes were parsed
// once. It is shared by concurrent evaluations and never modified.
type compiledRule struct {
	conditions []condition
	actions    []action
}

// Compile validates a rule and parses it into its executable form
func Compile(rule *core.EmailRule) (*compiledRule, error) {
	cr := &compiledRule{}
	if len(rule.Actions) == 0 {
		return nil, &core.RuleEvaluationError{RuleID: rule.ID, Reason: "rule has no actions"}
	}
	for i, c := range rule.Conditions {
		cond, err := compileCondition(c)
		if err != nil {
			return nil, &core.RuleEvaluationError{RuleID: rule.ID, Reason: fmt.Sprintf("condition %d: %v", i, err)}
		}
		cr.conditions = append(cr.conditions, cond)
	}
	for i, a := range rule.Actions {
		act, err := compileAction(a)
		if err != nil {
			return nil, &core.RuleEvaluationError{RuleID: rule.ID, Reason: fmt.Sprintf("action %d: %v", i, err)}
		}
		cr.actions = append(cr.actions, act)
	}
	return cr, nil
}

func compileCondition(c core.Condition) (condition, error) {
	field := core.Field(strings.ToLower(strings.TrimSpace(c.Field)))
	kind, ok := fieldKinds[field]
	if !ok {
		return condition{}, fmt.Errorf("unknown field %q", c.Field)
	}
	op := core.Operator(strings.ToLower(strings.TrimSpace(c.Operator)))
	cond := condition{field: field, kind: kind, op: op, value: c.Value}

	switch op {
	case core.OpEquals, core.OpContains, core.OpStartsWith, core.OpEndsWith:
		if kind == kindBool && op != core.OpEquals {
			return condition{}, fmt.Errorf("operator %s not supported on boolean field %s", op, field)
		}
		cond.value = strings.ToLower(c.Value)
		if kind == kindBool {
			b, err := strconv.ParseBool(strings.TrimSpace(c.Value))
			if err != nil {
				return condition{}, fmt.Errorf("field %s needs true or false, got %q", field, c.Value)
			}
			cond.value = strconv.FormatBool(b)
		}
		if kind == kindNumber && op == core.OpEquals {
			n, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
			if err != nil {
				return condition{}, fmt.Errorf("field %s needs a number, got %q", field, c.Value)
			}
			cond.number = n
		}
	case core.OpGreaterThan, core.OpLessThan:
		if kind != kindNumber {
			return condition{}, fmt.Errorf("operator %s requires a numeric field, %s is not", op, field)
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			return condition{}, fmt.Errorf("operator %s needs a number, got %q", op, c.Value)
		}
		cond.number = n
	case core.OpIn:
		for _, v := range strings.Split(c.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			switch kind {
			case kindNumber:
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return condition{}, fmt.Errorf("field %s needs numbers, got %q", field, v)
				}
				cond.numbers = append(cond.numbers, n)
			case kindBool:
				b, err := strconv.ParseBool(v)
				if err != nil {
					return condition{}, fmt.Errorf("field %s needs true or false, got %q", field, v)
				}
				cond.values = append(cond.values, strconv.FormatBool(b))
			default:
				cond.values = append(cond.values, strings.ToLower(v))
			}
		}
		if len(cond.values) == 0 && len(cond.numbers) == 0 {
			return condition{}, fmt.Errorf("operator in needs at least one value")
		}
	case core.OpRegex:
		if kind == kindBool {
			return condition{}, fmt.Errorf("operator regex not supported on boolean field %s", field)
		}
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return condition{}, fmt.Errorf("invalid regex %q: %w", c.Value, err)
		}
		cond.re = re
	default:
		return condition{}, fmt.Errorf("unknown operator %q", c.Operator)
	}
	return cond, nil
}

func compileAction(a core.Action) (action, error) {
	typ := core.ActionType(strings.ToLower(strings.TrimSpace(a.Type)))
	act := action{typ: typ}
	param := func(name string) string {
		return strings.TrimSpace(a.Params[name])
	}

	switch typ {
	case core.ActionMarkStatus:
		st, ok := core.ParseEmailStatus(param("status"))
		if !ok {
			return action{}, fmt.Errorf("mark_status needs a valid status, got %q", param("status"))
		}
		act.status = st
	case core.ActionAutoReport:
		act.language = param("language")
		for _, r := range strings.Split(param("recipients"), ",") {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			if strings.Contains(r, "@") {
				act.custom = r
				continue
			}
			rt, ok := core.ParseRecipientType(strings.ToLower(r))
			if !ok {
				return action{}, fmt.Errorf("auto_report has unknown recipient type %q", r)
			}
			act.types = append(act.types, rt)
		}
		if c := param("address"); c != "" {
			act.custom = c
		}
	case core.ActionAddLabel:
		act.label = param("label")
		if act.label == "" {
			return action{}, fmt.Errorf("add_label needs a label")
		}
	case core.ActionTrustDomain:
		act.domain = strings.ToLower(param("domain"))
	case core.ActionFlagForReview, core.ActionDelete, core.ActionBlockSender:
	default:
		return action{}, fmt.Errorf("unknown action %q", a.Type)
	}
	return act, nil
}

// facts are the field values of one email as seen by conditions
type facts struct {
	strings map[core.Field]string
	numbers map[core.Field]float64
}

func (c condition) matches(f facts) bool {
	if c.kind == kindNumber {
		n := f.numbers[c.field]
		switch c.op {
		case core.OpGreaterThan:
			return n > c.number
		case core.OpLessThan:
			return n < c.number
		case core.OpEquals:
			return n == c.number
		case core.OpIn:
			for _, v := range c.numbers {
				if n == v {
					return true
				}
			}
			return false
		}
	}

	raw := f.strings[c.field]
	if c.op == core.OpRegex {
		return c.re.MatchString(raw)
	}
	s := strings.ToLower(raw)
	switch c.op {
	case core.OpEquals:
		return s == c.value
	case core.OpContains:
		return strings.Contains(s, c.value)
	case core.OpStartsWith:
		return strings.HasPrefix(s, c.value)
	case core.OpEndsWith:
		return strings.HasSuffix(s, c.value)
	case core.OpIn:
		for _, v := range c.values {
			if s == v {
				return true
			}
		}
	}
	return false
}

func (cr *compiledRule) matches(f facts) bool {
	for _, c := range cr.conditions {
		if !c.matches(f) {
			return false
		}
	}
	return true
}

// needsPreferences reports whether any condition reads the preference store
func (cr *compiledRule) needsPreferences() bool {
	for _, c := range cr.conditions {
		if c.field == core.FieldSenderBlocked || c.field == core.FieldDomainTrusted {
			return true
		}
	}
	return false
}
