package scorer

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Rubric defines the business-fit criteria the scorer hands to the model.
// It lives in a YAML file so BD staff can tune it without a rebuild.
type Rubric struct {
	PracticeAreas     map[string]string `yaml:"practice_areas"`
	TieBreakOrder     []string          `yaml:"tie_break_order"`
	PreferredAgencies []string          `yaml:"preferred_agencies"`
	IrrelevantTerms   []string          `yaml:"irrelevant_terms"`
}

// LoadRubric reads a rubric from path. A missing file falls back to the
// built-in default; a present but malformed file is an error.
func LoadRubric(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Info("rubric file not found, using built-in default", zap.String("path", path))
			return DefaultRubric(), nil
		}
		return nil, eris.Wrapf(err, "scorer: read rubric %s", path)
	}

	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "scorer: parse rubric %s", path)
	}
	if len(r.PracticeAreas) == 0 {
		return nil, eris.Errorf("scorer: rubric %s defines no practice areas", path)
	}
	return &r, nil
}

// DefaultRubric returns the built-in scoring criteria.
func DefaultRubric() *Rubric {
	return &Rubric{
		PracticeAreas: map[string]string{
			"Acquisition Lifecycle Management":             "Procurement support across the full lifecycle: market research, cost estimates, procurement packages, contract administration and modifications, evaluation panel support, and closeout.",
			"Program Management & Delivery":                "Program management, performance evaluation with data analytics, process improvement through automation, and mission execution support.",
			"Business Transformation & Change Management":  "Process diagnostics, workflow redesign, organizational change management, and strategic communications.",
			"Grant Program Management":                     "Technical assistance through research and data analytics, policy evaluation, peer review management, event coordination, and grants operations oversight.",
			"Risk, Safety & Mission Assurance":             "Program planning, cybersecurity compliance, mission assurance, risk assessment, incident preparedness, continuity planning, compliance auditing, and training.",
			"Business & Technology Services":               "Technology modernization: custom software development, RPA and AI automation, UX design, application support, QA testing, and data analytics.",
			"Human Capital & Workforce Innovation":         "Strategic HR consulting, workforce planning, talent acquisition, training and development programs, and organizational design.",
		},
		TieBreakOrder: []string{
			"Business & Technology Services",
			"Program Management & Delivery",
			"Human Capital & Workforce Innovation",
			"Business Transformation & Change Management",
			"Risk, Safety & Mission Assurance",
			"Acquisition Lifecycle Management",
			"Grant Program Management",
		},
		PreferredAgencies: []string{
			"Department of Agriculture",
			"Department of Transportation",
			"Department of Veterans Affairs",
			"Department of Education",
			"Department of Interior",
			"Department of Homeland Security",
		},
		IrrelevantTerms: []string{
			"Membership Renewal", "Medical Services", "Fire Alarm", "Trauma",
			"Injury", "Expert Witness", "Data Entry", "Culinary", "Geospatial",
			"Heritage Resource", "Chemical", "Laptops", "Hardware", "Helpdesk",
			"Geophysical", "Subscription", "Network Support", "Sensors",
			"Software Licensing", "Enterprise License", "Battlefield",
			"Warfighter", "Fire Suppression",
		},
	}
}

// PromptSection renders the rubric as text for the scoring system prompt.
// Practice areas are sorted so the prompt is stable across runs and prompt
// caching keeps hitting.
func (r *Rubric) PromptSection() string {
	var b strings.Builder

	b.WriteString("Our company has the following practice areas:\n")
	names := make([]string, 0, len(r.PracticeAreas))
	for name := range r.PracticeAreas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.PracticeAreas[name])
	}

	if len(r.TieBreakOrder) > 0 {
		b.WriteString("\nIf fit is tied between practice areas, prefer them in this order:\n")
		for i, name := range r.TieBreakOrder {
			fmt.Fprintf(&b, "%d. %s\n", i+1, name)
		}
	}

	if len(r.PreferredAgencies) > 0 {
		fmt.Fprintf(&b, "\nOur preferred agencies are: %s. Opportunities from these agencies get slightly higher preference (+1 to fit score if relevant and all other factors are equal).\n",
			strings.Join(r.PreferredAgencies, ", "))
	}

	if len(r.IrrelevantTerms) > 0 {
		fmt.Fprintf(&b, "\nThe following terms generally indicate a poor fit: %s. If an opportunity's primary focus clearly revolves around one or more of these, assign a fit score between 1 and 2 and name the terms in the justification.\n",
			strings.Join(r.IrrelevantTerms, ", "))
	}

	return b.String()
}
