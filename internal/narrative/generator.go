// Package narrative renders the SAR narrative for a case from the customer
// profile, the transaction history and the risk analysis. Every figure in the
// text is derived from the history at render time.
package narrative

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxCitedEvidence is the number of evidence ids cited inline per reason
const MaxCitedEvidence = 3

const dateLayout = "2006-01-02"

// Generator renders narratives. It is safe for concurrent use.
type Generator struct {
	standard  *template.Template
	discovery *template.Template
}

// NewGenerator parses the narrative templates
func NewGenerator() *Generator {
	g := &Generator{}
	funcs := template.FuncMap{
		"money": money,
	}
	g.standard = template.Must(template.New("standard").Funcs(funcs).Parse(standardTemplate))
	g.discovery = template.Must(template.New("discovery").Funcs(funcs).Parse(discoveryTemplate))
	return g
}

type reasonLine struct {
	Text     string
	Citation string
}

type view struct {
	Customer            domain.CustomerProfile
	PeriodStart         string
	PeriodEnd           string
	SpanDays            int
	Count               int
	Total               decimal.Decimal
	Average             decimal.Decimal
	Typology            domain.Typology
	TypologyDescription string
	Reasons             []reasonLine
	VelocityMultiplier  string
	FragmentationCite   string
	NetworkCite         string
}

// Generate renders the narrative. The history must not be empty.
func (g *Generator) Generate(customer domain.CustomerProfile, history []domain.Transaction, risk domain.RiskAnalysis) (string, error) {
	if len(history) == 0 {
		return "", domain.NewValidationError("txn_history", "transaction history is empty")
	}

	first, last := history[0], history[len(history)-1]
	total := decimal.Zero
	for _, t := range history {
		total = total.Add(t.Amount)
	}
	v := view{
		Customer:            customer,
		PeriodStart:         first.Timestamp.Format(dateLayout),
		PeriodEnd:           last.Timestamp.Format(dateLayout),
		SpanDays:            int(last.Timestamp.Sub(first.Timestamp).Hours()/24) + 1,
		Count:               len(history),
		Total:               total,
		Average:             total.Div(decimal.NewFromInt(int64(len(history)))),
		Typology:            risk.Typology,
		TypologyDescription: risk.Typology.Description(),
		VelocityMultiplier:  fmt.Sprintf("%.1f", risk.VelocityMultiplier),
		FragmentationCite:   Cite(risk.Evidence, domain.TypologyMicroFragmentation),
		NetworkCite:         Cite(risk.Evidence, domain.TypologyNetworkLink),
	}
	if v.TypologyDescription == "" {
		v.TypologyDescription = string(risk.Typology)
	}
	for _, r := range risk.Reasons {
		v.Reasons = append(v.Reasons, reasonLine{Text: r.Text, Citation: Cite(risk.Evidence, r.Code)})
	}

	tmpl := g.standard
	if risk.NewTypology {
		tmpl = g.discovery
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, v); err != nil {
		return "", fmt.Errorf("failed to render narrative: %w", err)
	}
	return sb.String(), nil
}

// Cite formats the inline citation for a reason code, or "" when the code has
// no evidence entry
func Cite(evidence map[domain.Typology]domain.Evidence, code domain.Typology) string {
	ev, ok := evidence[code]
	if !ok || len(ev.IDs) == 0 {
		return ""
	}
	ids := ev.IDs
	if len(ids) > MaxCitedEvidence {
		ids = ids[:MaxCitedEvidence]
	}
	return " [Evidence: " + strings.Join(ids, ", ") + "]"
}

// money renders d as dollars with thousands separators. Formatting works on
// the decimal string so large amounts keep every digit.
func money(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var sb strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sign + "$" + sb.String() + "." + frac
}
