package escalation

import (
	"regexp"
	"strings"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Fields collected during intake
const (
	FieldBusinessType  types.FieldName = "business_type"
	FieldBudgetRange   types.FieldName = "budget_range"
	FieldCurrentTools  types.FieldName = "current_tools"
	FieldProductArea   types.FieldName = "product_area"
	FieldErrorMessage  types.FieldName = "error_message"
	FieldEnvironment   types.FieldName = "environment"
	FieldInquiryDetail types.FieldName = "inquiry_detail"
)

// FieldSpec describes one required field of a category. A FollowUpOnly
// field is only taken from replies after the first turn, so an opening
// message cannot satisfy it on its own.
type FieldSpec struct {
	Name         types.FieldName
	Question     string
	Extract      func(text string) string
	FollowUpOnly bool
}

// Policy defines how a category is detected and which fields it requires.
// Required is in priority order.
type Policy struct {
	Category types.CategoryID
	Keywords []string
	Required []FieldSpec
}

// Intake resolves categories and extracts required fields from customer text
type Intake struct {
	policies []Policy
	fallback Policy
}

// NewIntake creates an Intake. Without policies the built-in marketing,
// tech and general policies are used. The last policy whose category is
// general (or the built-in general policy) is the fallback.
func NewIntake(policies ...Policy) *Intake {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}

	in := &Intake{fallback: generalPolicy()}
	for _, p := range policies {
		if p.Category == types.CategoryGeneral {
			in.fallback = p
			continue
		}
		in.policies = append(in.policies, p)
	}
	return in
}

// DefaultPolicies returns the built-in category policies
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Category: types.CategoryMarketing,
			Keywords: []string{"売上", "集客", "広告", "マーケティング", "販促", "キャンペーン", "ecサイト", "通販", "seo", "sns", "sales", "marketing", "advertising", "campaign"},
			Required: []FieldSpec{
				{Name: FieldBusinessType, Question: "どのような業種・ビジネスを運営されていますか？（例：ECサイト、飲食店、SaaS）", Extract: extractBusinessType},
				{Name: FieldBudgetRange, Question: "ご予算の目安を教えていただけますか？（例：月額10万円程度）", Extract: extractBudget},
				{Name: FieldCurrentTools, Question: "現在ご利用中のツールやサービスがあれば教えてください。", Extract: extractTools},
			},
		},
		{
			Category: types.CategoryTech,
			Keywords: []string{"エラー", "ログイン", "バグ", "不具合", "動かない", "接続", "設定", "api連携", "error", "bug", "login", "crash", "install"},
			Required: []FieldSpec{
				{Name: FieldProductArea, Question: "どの機能・画面で問題が発生していますか？", Extract: extractProductArea},
				{Name: FieldErrorMessage, Question: "表示されているエラーメッセージを教えていただけますか？", Extract: extractErrorMessage},
				{Name: FieldEnvironment, Question: "ご利用の環境（OS・ブラウザ・アプリのバージョンなど）を教えてください。", Extract: extractEnvironment},
			},
		},
		generalPolicy(),
	}
}

func generalPolicy() Policy {
	return Policy{
		Category: types.CategoryGeneral,
		Required: []FieldSpec{
			{Name: FieldInquiryDetail, Question: "お問い合わせ内容をもう少し詳しく教えていただけますか？", Extract: extractInquiryDetail, FollowUpOnly: true},
		},
	}
}

// ResolveCategory returns the category whose keywords match text most often.
// Ties go to the earlier policy; no match is general.
func (x *Intake) ResolveCategory(text string) types.CategoryID {
	best, bestHits := x.fallback.Category, 0
	for _, p := range x.policies {
		if hits, _ := textutil.CountKeywords(text, p.Keywords); hits > bestHits {
			best, bestHits = p.Category, hits
		}
	}
	return best
}

func (x *Intake) policy(category types.CategoryID) Policy {
	for _, p := range x.policies {
		if p.Category == category {
			return p
		}
	}
	return x.fallback
}

// RequiredFields returns the required fields of category in priority order
func (x *Intake) RequiredFields(category types.CategoryID) []types.FieldName {
	p := x.policy(category)
	names := make([]types.FieldName, len(p.Required))
	for i, f := range p.Required {
		names[i] = f.Name
	}
	return names
}

// ExtractFields returns the required fields of category found in the
// opening message text. FollowUpOnly fields are skipped.
func (x *Intake) ExtractFields(category types.CategoryID, text string) map[types.FieldName]string {
	return x.extract(category, text, false)
}

// ExtractFollowUp returns the required fields of category found in a reply
// made after the first turn, FollowUpOnly fields included.
func (x *Intake) ExtractFollowUp(category types.CategoryID, text string) map[types.FieldName]string {
	return x.extract(category, text, true)
}

func (x *Intake) extract(category types.CategoryID, text string, followUp bool) map[types.FieldName]string {
	found := map[types.FieldName]string{}
	for _, f := range x.policy(category).Required {
		if f.Extract == nil || (f.FollowUpOnly && !followUp) {
			continue
		}
		if v := f.Extract(text); v != "" {
			found[f.Name] = v
		}
	}
	return found
}

// Missing returns the required fields not yet present in state, in priority order
func (x *Intake) Missing(state model.ConversationState) []types.FieldName {
	var missing []types.FieldName
	for _, f := range x.policy(state.Category).Required {
		if strings.TrimSpace(state.CollectedInfo[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// IsComplete reports whether every required field of the state's category
// has been collected
func (x *Intake) IsComplete(state model.ConversationState) bool {
	return len(x.Missing(state)) == 0
}

// NextQuestion returns the clarifying question for the highest priority
// missing field. ok is false when nothing is missing.
func (x *Intake) NextQuestion(state model.ConversationState) (types.FieldName, string, bool) {
	missing := x.Missing(state)
	if len(missing) == 0 {
		return "", "", false
	}
	for _, f := range x.policy(state.Category).Required {
		if f.Name == missing[0] {
			return f.Name, f.Question, true
		}
	}
	return "", "", false
}

type keywordValue struct {
	keywords []string
	value    string
}

func firstValue(text string, table []keywordValue) string {
	for _, kv := range table {
		if textutil.ContainsAny(text, kv.keywords) {
			return kv.value
		}
	}
	return ""
}

func matchedList(text string, keywords []string) string {
	_, matched := textutil.CountKeywords(text, keywords)
	return strings.Join(matched, ", ")
}

var businessTypes = []keywordValue{
	{keywords: []string{"ecサイト", "通販", "ネットショップ", "オンラインショップ", "e-commerce", "ecommerce", "online store"}, value: "ec"},
	{keywords: []string{"飲食", "レストラン", "カフェ", "restaurant"}, value: "restaurant"},
	{keywords: []string{"saas", "クラウドサービス"}, value: "saas"},
	{keywords: []string{"小売", "店舗", "retail"}, value: "retail"},
	{keywords: []string{"法人向け", "b2b"}, value: "b2b"},
}

func extractBusinessType(text string) string {
	return firstValue(text, businessTypes)
}

var (
	budgetPattern       = regexp.MustCompile(`(?:月額|年間|月)?\s*[0-9][0-9,.]*\s*(?:万円|千円|円)(?:\s*(?:~|〜|から|-)\s*[0-9][0-9,.]*\s*(?:万円|千円|円))?`)
	budgetDollarPattern = regexp.MustCompile(`\$\s?[0-9][0-9,.]*(?:k)?`)
)

func extractBudget(text string) string {
	normalized := textutil.Normalize(text)
	if m := budgetPattern.FindString(normalized); m != "" {
		return strings.TrimSpace(m)
	}
	if m := budgetDollarPattern.FindString(normalized); m != "" {
		return strings.TrimSpace(m)
	}
	return ""
}

var toolKeywords = []string{
	"shopify", "google analytics", "ga4", "hubspot", "salesforce", "wordpress", "mailchimp",
	"excel", "エクセル", "スプレッドシート", "楽天", "amazon", "instagram", "line公式",
}

func extractTools(text string) string {
	return matchedList(text, toolKeywords)
}

var productAreas = []keywordValue{
	{keywords: []string{"ログイン", "パスワード", "login", "password"}, value: "login"},
	{keywords: []string{"決済", "支払", "請求", "payment", "billing"}, value: "billing"},
	{keywords: []string{"api連携", "api キー", "apiキー", "webhook"}, value: "api"},
	{keywords: []string{"ダッシュボード", "dashboard"}, value: "dashboard"},
	{keywords: []string{"レポート", "report"}, value: "reporting"},
	{keywords: []string{"通知", "notification"}, value: "notification"},
	{keywords: []string{"スマホ", "アプリ", "mobile"}, value: "mobile"},
}

func extractProductArea(text string) string {
	return firstValue(text, productAreas)
}

var (
	quotedError = regexp.MustCompile(`[「"]([^」"]{2,200})[」"]`)
	errorCode   = regexp.MustCompile(`(?i)\b(?:e|err|error)[-_ ]?[0-9]{2,5}\b|\b[45][0-9]{2}\s*(?:error|エラー)`)
	errorWords  = []string{"エラー", "error"}
)

func extractErrorMessage(text string) string {
	if m := errorCode.FindString(text); m != "" {
		return m
	}
	if !textutil.ContainsAny(text, errorWords) {
		return ""
	}
	if m := quotedError.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, s := range textutil.Sentences(text) {
		if textutil.ContainsAny(s, errorWords) && textutil.ContainsAny(s, []string{"表示", "出", "shows", "says", "message", "メッセージ"}) {
			return s
		}
	}
	return ""
}

var environmentKeywords = []string{
	"windows", "macos", "mac os", "macbook", "linux", "ios", "android", "iphone", "ipad",
	"chrome", "safari", "firefox", "microsoft edge",
}

func extractEnvironment(text string) string {
	return matchedList(text, environmentKeywords)
}

const minDetailRunes = 15

func extractInquiryDetail(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minDetailRunes {
		return ""
	}
	return textutil.Truncate(text, 200)
}
