package subagents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dwizi/agent-orchestrator/internal/archive"
	"github.com/dwizi/agent-orchestrator/internal/llm"
	"github.com/dwizi/agent-orchestrator/internal/routing"
)

const CivicServiceType = "civic_service"

const (
	minDetailWords = 6
	minDetailRunes = 20
)

const (
	KindComplaint = "complaint"
	KindWelfare   = "welfare"
)

type ComplaintCategory struct {
	Name       string
	Urgency    string
	Department string
	Keywords   []string
}

type WelfareCategory struct {
	Name         string
	Department   string
	Requirements []string
	Documents    []string
	Keywords     []string
}

var ComplaintCategories = map[string]ComplaintCategory{
	"street_light": {
		Name:       "Street light outage",
		Urgency:    "medium",
		Department: "Public Lighting",
		Keywords:   []string{"street light", "streetlight", "lamp", "light is out", "lights out", "dark street", "ไฟถนน", "ไฟดับ"},
	},
	"flooding": {
		Name:       "Flooding",
		Urgency:    "high",
		Department: "Drainage",
		Keywords:   []string{"flood", "flooding", "water logging", "drain", "sewer", "น้ำท่วม", "ท่อระบายน้ำ"},
	},
	"garbage": {
		Name:       "Uncollected garbage",
		Urgency:    "medium",
		Department: "Sanitation",
		Keywords:   []string{"garbage", "trash", "rubbish", "waste", "litter", "ขยะ"},
	},
	"noise": {
		Name:       "Noise disturbance",
		Urgency:    "low",
		Department: "City Inspection",
		Keywords:   []string{"noise", "noisy", "loud", "music", "party", "เสียงดัง"},
	},
	"sidewalk": {
		Name:       "Damaged sidewalk",
		Urgency:    "medium",
		Department: "Public Works",
		Keywords:   []string{"sidewalk", "pavement", "footpath", "pothole", "broken road", "ทางเท้า"},
	},
	"stray_animals": {
		Name:       "Stray animals",
		Urgency:    "medium",
		Department: "Public Health",
		Keywords:   []string{"stray", "dog", "dogs", "cat", "cats", "animal", "สุนัขจรจัด", "หมาจรจัด"},
	},
	"safety": {
		Name:       "Public safety",
		Urgency:    "high",
		Department: "City Inspection",
		Keywords:   []string{"unsafe", "danger", "dangerous", "crime", "robbery", "fight", "ความปลอดภัย", "อันตราย"},
	},
}

var WelfareCategories = map[string]WelfareCategory{
	"elderly": {
		Name:         "Elderly allowance registration",
		Department:   "Social Welfare",
		Requirements: []string{"Aged 60 or older", "Registered resident of the district", "Not receiving a government pension"},
		Documents:    []string{"National ID card", "House registration", "Bank account book"},
		Keywords:     []string{"elderly", "senior", "old age", "pension", "ผู้สูงอายุ", "เบี้ยยังชีพ"},
	},
	"disabled": {
		Name:         "Disability registration",
		Department:   "Social Welfare",
		Requirements: []string{"Holds a disability ID card", "Registered resident of the district"},
		Documents:    []string{"National ID card", "Disability ID card", "House registration", "Bank account book"},
		Keywords:     []string{"disabled", "disability", "wheelchair", "handicap", "คนพิการ", "ผู้พิการ"},
	},
	"financial_aid": {
		Name:         "Financial assistance",
		Department:   "Social Welfare",
		Requirements: []string{"Facing documented financial hardship", "Registered resident of the district"},
		Documents:    []string{"National ID card", "House registration", "Evidence of hardship"},
		Keywords:     []string{"financial aid", "assistance", "allowance", "grant", "money", "เงินสงเคราะห์"},
	},
	"low_income": {
		Name:         "Low-income welfare card",
		Department:   "Social Welfare",
		Requirements: []string{"Annual income below the national threshold", "Aged 18 or older"},
		Documents:    []string{"National ID card", "Income statement"},
		Keywords:     []string{"low income", "poor", "welfare card", "รายได้น้อย", "บัตรสวัสดิการ"},
	},
	"emergency": {
		Name:         "Emergency relief",
		Department:   "Social Welfare",
		Requirements: []string{"Affected by a disaster or emergency within the district"},
		Documents:    []string{"National ID card", "Incident report or photos"},
		Keywords:     []string{"emergency", "disaster", "fire", "evacuate", "relief", "ฉุกเฉิน", "ภัยพิบัติ"},
	},
}

var UrgencyResponseTimes = map[string]string{
	"high":   "24 hours",
	"medium": "3 days",
	"low":    "7 days",
}

const civicClassifierPrompt = `Decide whether the citizen message below is a complaint or a welfare inquiry.

Complaint types: %s
Welfare types: %s

Message: %s

Reply with JSON only: {"category": "complaint | welfare | unknown", "type": "<type key>"}`

var (
	phonePattern    = regexp.MustCompile(`(?:\+?\d[\d\s-]{7,}\d)`)
	emailPattern    = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	lineIDPattern   = regexp.MustCompile(`(?i)(?:line(?:\s*id)?|ไลน์)\s*[:：]\s*[a-z0-9_.-]+`)
	locationPattern = regexp.MustCompile(`(?i)\b(?:at|near|in front of|opposite|behind)\s+\S+|\b(?:street|road|rd|st|soi|avenue|lane|district|village|moo|alley)\b|\d+\.\d+\s*,\s*\d+\.\d+|ถนน|ซอย|หมู่|ตำบล|อำเภอ|เขต|ที่อยู่`)
)

type CivicService struct {
	llm     llm.Completer
	archive archive.Archive
	logger  *slog.Logger
	now     func() time.Time
}

// NewCivicService returns the handler for civic_service agents. A nil
// completer classifies with keyword tables only.
func NewCivicService(completer llm.Completer, store archive.Archive, logger *slog.Logger) *CivicService {
	if store == nil {
		store = archive.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CivicService{
		llm:     completer,
		archive: store,
		logger:  logger,
		now:     time.Now,
	}
}

type civicCategory struct {
	Kind string `json:"category"`
	Type string `json:"type"`
}

func (c *CivicService) Handle(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	category := c.classify(ctx, message)
	switch category.Kind {
	case KindComplaint:
		return c.handleComplaint(ctx, req, message, category.Type)
	case KindWelfare:
		return c.handleWelfare(ctx, req, message, category.Type)
	default:
		return Response{
			Content: "Sorry, I could not tell what you need. Please say whether you want to report a complaint or ask about a welfare service.",
			Data:    map[string]any{"category": "unknown"},
		}, nil
	}
}

func (c *CivicService) classify(ctx context.Context, message string) civicCategory {
	if c.llm != nil {
		reply, err := c.llm.Complete(ctx, llm.Request{
			Prompt:      fmt.Sprintf(civicClassifierPrompt, strings.Join(sortedKeys(ComplaintCategories), ", "), strings.Join(sortedKeys(WelfareCategories), ", "), message),
			Temperature: 0.1,
			MaxTokens:   100,
		})
		if err != nil {
			c.logger.Warn("civic classification failed, using keywords", "error", err)
		} else if category, ok := parseCivicCategory(reply); ok {
			return category
		}
	}
	return classifyByKeywords(message)
}

func parseCivicCategory(reply string) (civicCategory, bool) {
	object, ok := llm.ExtractJSONObject(reply)
	if !ok {
		return civicCategory{}, false
	}
	var category civicCategory
	if err := json.Unmarshal([]byte(object), &category); err != nil {
		return civicCategory{}, false
	}
	category.Kind = strings.ToLower(strings.TrimSpace(category.Kind))
	category.Type = strings.ToLower(strings.TrimSpace(category.Type))
	switch category.Kind {
	case KindComplaint:
		_, known := ComplaintCategories[category.Type]
		return category, known
	case KindWelfare:
		_, known := WelfareCategories[category.Type]
		return category, known
	default:
		return civicCategory{}, false
	}
}

// classifyByKeywords picks the category with the most keyword hits.
// Complaints win ties against welfare categories.
func classifyByKeywords(message string) civicCategory {
	lower := strings.ToLower(message)
	best := civicCategory{Kind: "unknown"}
	bestScore := 0
	for _, key := range sortedKeys(ComplaintCategories) {
		if score := countKeywords(lower, ComplaintCategories[key].Keywords); score > bestScore {
			best, bestScore = civicCategory{Kind: KindComplaint, Type: key}, score
		}
	}
	for _, key := range sortedKeys(WelfareCategories) {
		if score := countKeywords(lower, WelfareCategories[key].Keywords); score > bestScore {
			best, bestScore = civicCategory{Kind: KindWelfare, Type: key}, score
		}
	}
	return best
}

func countKeywords(lower string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			count++
		}
	}
	return count
}

func (c *CivicService) handleComplaint(ctx context.Context, req Request, message, complaintType string) (Response, error) {
	category := ComplaintCategories[complaintType]
	urgency := category.Urgency
	if analyzed := routing.NormalizeUrgency(req.Analysis.Urgency); analyzed == "high" {
		urgency = analyzed
	}

	missing := missingComplaintInfo(message, req.Context)
	if len(missing) > 0 {
		var builder strings.Builder
		builder.WriteString("To handle your report quickly, please provide the following details:\n")
		for _, item := range missing {
			builder.WriteString("- ")
			builder.WriteString(item)
			builder.WriteString("\n")
		}
		return Response{
			Content: strings.TrimSpace(builder.String()),
			Data: map[string]any{
				"category": KindComplaint,
				"type":     complaintType,
				"status":   "needs_info",
				"missing":  missing,
			},
		}, nil
	}

	caseID := c.saveCase(ctx, archive.Case{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Kind:       KindComplaint,
		Category:   complaintType,
		Urgency:    urgency,
		Department: category.Department,
		Message:    message,
		Details:    map[string]any{"source": req.Source, "agent_id": req.Agent.ID},
		Status:     "received",
	})

	content := fmt.Sprintf(`Thank you for reporting: %s.

We have received your report.
- Urgency: %s
- Responsible department: %s
- Expected response within: %s

Our staff will follow up as soon as possible.`, category.Name, urgency, category.Department, UrgencyResponseTimes[urgency])
	data := map[string]any{
		"category":   KindComplaint,
		"type":       complaintType,
		"status":     "received",
		"urgency":    urgency,
		"department": category.Department,
	}
	if caseID != "" {
		data["case_id"] = caseID
	}
	return Response{Content: content, Data: data}, nil
}

func (c *CivicService) handleWelfare(ctx context.Context, req Request, message, welfareType string) (Response, error) {
	category := WelfareCategories[welfareType]
	var builder strings.Builder
	builder.WriteString("Information about ")
	builder.WriteString(category.Name)
	builder.WriteString(":\n\nEligibility:\n")
	for _, requirement := range category.Requirements {
		builder.WriteString("- " + requirement + "\n")
	}
	builder.WriteString("\nDocuments to prepare:\n")
	for _, document := range category.Documents {
		builder.WriteString("- " + document + "\n")
	}
	builder.WriteString("\nApply at your district office, Monday to Friday 08:30-16:30.")

	caseID := c.saveCase(ctx, archive.Case{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Kind:       KindWelfare,
		Category:   welfareType,
		Department: category.Department,
		Message:    message,
		Details:    map[string]any{"source": req.Source, "agent_id": req.Agent.ID},
		Status:     "inquiry",
	})
	data := map[string]any{
		"category":   KindWelfare,
		"type":       welfareType,
		"status":     "inquiry",
		"department": category.Department,
	}
	if caseID != "" {
		data["case_id"] = caseID
	}
	return Response{Content: builder.String(), Data: data}, nil
}

// saveCase is best-effort; the reply does not depend on the archive.
func (c *CivicService) saveCase(ctx context.Context, record archive.Case) string {
	record.Timestamp = c.now().UTC()
	id, err := c.archive.SaveCase(ctx, record)
	if err != nil {
		c.logger.Warn("case archive failed", "kind", record.Kind, "category", record.Category, "error", err)
		return ""
	}
	return id
}

func missingComplaintInfo(message string, values map[string]any) []string {
	missing := []string{}
	if !locationPattern.MatchString(message) && !hasContextValue(values, "location", "address") {
		missing = append(missing, "Where is the problem? (address, landmark, or coordinates)")
	}
	if !describedEnough(message) && !hasContextValue(values, "details") {
		missing = append(missing, "What exactly is happening and since when?")
	}
	if !phonePattern.MatchString(message) && !emailPattern.MatchString(message) && !lineIDPattern.MatchString(message) &&
		!hasContextValue(values, "phone", "email", "contact") {
		missing = append(missing, "How can our staff contact you? (phone number or email)")
	}
	return missing
}

// describedEnough counts words for spaced scripts and runes for scripts
// written without spaces between words.
func describedEnough(message string) bool {
	if len(strings.Fields(message)) >= minDetailWords {
		return true
	}
	unspaced := 0
	for _, r := range message {
		if unicode.In(r, unicode.Thai, unicode.Lao, unicode.Khmer, unicode.Myanmar, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			unspaced++
		}
	}
	return unspaced >= minDetailRunes
}

func hasContextValue(values map[string]any, keys ...string) bool {
	for _, key := range keys {
		if value, ok := values[key]; ok && value != nil && strings.TrimSpace(fmt.Sprint(value)) != "" {
			return true
		}
	}
	return false
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
