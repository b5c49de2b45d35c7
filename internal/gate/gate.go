// Package gate classifies products on the quality ladder
// (rejected < skeleton < partial < baseline < enriched < complete)
// from their field map, ECP and per-type configuration.
package gate

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/spirits-cli/internal/ecp"
	"github.com/sells-group/spirits-cli/internal/model"
)

// CompleteECPThreshold promotes straight to Complete.
const CompleteECPThreshold = 90.0

// MinFieldConfidence: fields below this confidence count as missing.
const MinFieldConfidence = 0.5

// Assessment is the full quality gate verdict for one product.
type Assessment struct {
	Status              model.ProductStatus        `json:"status"`
	CompletenessScore   float64                    `json:"completeness_score"`
	PopulatedFields     []string                   `json:"populated_fields"`
	MissingRequired     []string                   `json:"missing_required_fields"`
	MissingOrGroups     [][]string                 `json:"missing_or_fields"`
	EnrichmentPriority  int                        `json:"enrichment_priority"`
	NeedsEnrichment     bool                       `json:"needs_enrichment"`
	RejectionReason     string                     `json:"rejection_reason,omitempty"`
	LowConfidenceFields []string                   `json:"low_confidence_fields"`
	ECPByGroup          map[string]ecp.GroupResult `json:"ecp_by_group"`
	ECPTotal            float64                    `json:"ecp_total"`
}

var basePriority = map[model.ProductStatus]int{
	model.StatusRejected: 10,
	model.StatusSkeleton: 9,
	model.StatusPartial:  7,
	model.StatusBaseline: 5,
	model.StatusEnriched: 3,
	model.StatusComplete: 1,
}

// Assess classifies a field map for a product type. Confidences may be
// nil; ecpTotal may be nil to have it computed from the type's field
// groups.
func Assess(data map[string]any, confidences map[string]any, ecpTotal *float64, pt model.ProductType) *Assessment {
	cfg := ConfigFor(pt)
	groups := ecp.GroupsFor(pt)

	lowConfidence := lowConfidenceFields(confidences)
	populated := func(field string) bool {
		if _, low := lowConfidence[field]; low {
			return false
		}
		return ecp.Populated(data[field])
	}

	byGroup := ecp.CalculateByGroup(data, groups)
	total := ecp.CalculateTotal(byGroup)
	if ecpTotal != nil {
		total = *ecpTotal
	}

	a := &Assessment{
		CompletenessScore:   total / 100,
		PopulatedFields:     populatedFields(data, lowConfidence),
		MissingOrGroups:     [][]string{},
		LowConfidenceFields: sortedKeys(lowConfidence),
		ECPByGroup:          byGroup,
		ECPTotal:            total,
	}

	partialRequired := applyCategoryExemptions(cfg.PartialRequired, data)
	baselineRequired := applyCategoryExemptions(cfg.BaselineRequired, data)
	baselineOr := applyOrExceptions(cfg.BaselineOrGroups, cfg.BaselineOrExceptions, data)

	baselineOK := allPopulated(baselineRequired, populated) && allGroupsSatisfied(baselineOr, populated)
	enrichedOK := baselineOK && allPopulated(cfg.EnrichedRequired, populated) && allGroupsSatisfied(cfg.EnrichedOrGroups, populated)

	switch {
	case !populated("name"):
		a.Status = model.StatusRejected
		a.RejectionReason = "Missing required field: name"
		a.MissingRequired = []string{"name"}
	case total >= CompleteECPThreshold:
		a.Status = model.StatusComplete
	case enrichedOK:
		a.Status = model.StatusEnriched
	case baselineOK:
		a.Status = model.StatusBaseline
		a.MissingRequired = missingFields(cfg.EnrichedRequired, populated)
		a.MissingOrGroups = missingGroups(cfg.EnrichedOrGroups, populated)
	case allPopulated(partialRequired, populated):
		a.Status = model.StatusPartial
		a.MissingRequired = missingFields(baselineRequired, populated)
		a.MissingOrGroups = missingGroups(baselineOr, populated)
	case allPopulated(cfg.SkeletonRequired, populated):
		a.Status = model.StatusSkeleton
		a.MissingRequired = missingFields(partialRequired, populated)
	default:
		a.Status = model.StatusRejected
		a.MissingRequired = missingFields(cfg.SkeletonRequired, populated)
	}

	a.NeedsEnrichment = a.Status != model.StatusComplete && a.RejectionReason == ""
	a.EnrichmentPriority = priority(a.Status, a.CompletenessScore)
	return a
}

// priority maps the status to 1-10, adjusted upward for low
// completeness and clamped.
func priority(status model.ProductStatus, completeness float64) int {
	p := float64(basePriority[status]) + (1-completeness)*2
	n := int(math.Round(p))
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}

func allPopulated(fields []string, populated func(string) bool) bool {
	for _, f := range fields {
		if !populated(f) {
			return false
		}
	}
	return true
}

// An OR-group is satisfied when at least one of its fields is
// populated; a group list requires every group satisfied.
func allGroupsSatisfied(groups [][]string, populated func(string) bool) bool {
	for _, g := range groups {
		if !groupSatisfied(g, populated) {
			return false
		}
	}
	return true
}

func groupSatisfied(group []string, populated func(string) bool) bool {
	for _, f := range group {
		if populated(f) {
			return true
		}
	}
	return false
}

func missingFields(fields []string, populated func(string) bool) []string {
	missing := []string{}
	for _, f := range fields {
		if !populated(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func missingGroups(groups [][]string, populated func(string) bool) [][]string {
	missing := [][]string{}
	for _, g := range groups {
		if !groupSatisfied(g, populated) {
			missing = append(missing, g)
		}
	}
	return missing
}

// applyCategoryExemptions drops primary_cask and region from the
// required list for blended and Canadian categories.
func applyCategoryExemptions(required []string, data map[string]any) []string {
	category, _ := data["category"].(string)
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return required
	}
	exempt := false
	for _, label := range blendedCategories {
		if category == label {
			exempt = true
			break
		}
	}
	if !exempt {
		return required
	}
	out := make([]string, 0, len(required))
	for _, f := range required {
		if f == blendedExemptFields[0] || f == blendedExemptFields[1] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// applyOrExceptions removes OR-groups waived by a triggered exception
// (e.g. ruby-style ports waive the age indication group).
func applyOrExceptions(groups [][]string, exceptions []OrGroupException, data map[string]any) [][]string {
	if len(exceptions) == 0 {
		return groups
	}
	waived := make(map[string]bool)
	for _, ex := range exceptions {
		if !ex.Triggered(data) {
			continue
		}
		for _, f := range ex.Waives {
			waived[f] = true
		}
	}
	if len(waived) == 0 {
		return groups
	}
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		keep := true
		for _, f := range g {
			if waived[f] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, g)
		}
	}
	return out
}

// lowConfidenceFields returns fields whose supplied confidence falls
// below the minimum. List confidences average before comparison.
func lowConfidenceFields(confidences map[string]any) map[string]struct{} {
	low := make(map[string]struct{})
	for field, v := range confidences {
		var conf float64
		switch val := v.(type) {
		case float64:
			conf = val
		case int:
			conf = float64(val)
		case []any:
			if len(val) == 0 {
				continue
			}
			var sum float64
			for _, item := range val {
				if f, ok := item.(float64); ok {
					sum += f
				}
			}
			conf = sum / float64(len(val))
		default:
			continue
		}
		if conf < MinFieldConfidence {
			low[field] = struct{}{}
		}
	}
	return low
}

func populatedFields(data map[string]any, lowConfidence map[string]struct{}) []string {
	fields := []string{}
	for k, v := range data {
		if _, low := lowConfidence[k]; low {
			continue
		}
		if ecp.Populated(v) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
