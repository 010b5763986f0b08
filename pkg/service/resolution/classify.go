package resolution

import (
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Problem types assigned by Classify
const (
	ProblemLogin          = "login_issue"
	ProblemPayment        = "payment_issue"
	ProblemPerformance    = "performance_issue"
	ProblemBug            = "bug_report"
	ProblemAccount        = "account_issue"
	ProblemFeatureInquiry = "feature_inquiry"
	ProblemGeneral        = "general"
)

type problemRule struct {
	problemType string
	keywords    []string
}

// Order matters: earlier rules win ties.
var problemRules = []problemRule{
	{ProblemLogin, []string{"ログイン", "パスワード", "サインイン", "二段階認証", "login", "log in", "password", "sign in"}},
	{ProblemPayment, []string{"支払", "決済", "請求", "クレジットカード", "返金", "payment", "billing", "invoice", "refund"}},
	{ProblemPerformance, []string{"遅い", "重い", "タイムアウト", "時間がかかる", "slow", "timeout", "latency", "performance"}},
	{ProblemBug, []string{"エラー", "バグ", "不具合", "動かない", "error", "bug", "crash", "broken"}},
	{ProblemAccount, []string{"アカウント", "退会", "メールアドレス", "登録情報", "account", "profile", "sign up", "email address"}},
	{ProblemFeatureInquiry, []string{"機能", "できますか", "使い方", "方法", "feature", "how to", "is it possible"}},
}

var (
	acknowledgementKeywords = []string{
		"ありがとう", "解決しました", "できました", "助かりました", "直りました", "契約",
		"thank", "solved", "works now", "fixed", "that worked",
	}
	abandonmentKeywords = []string{
		"もういい", "解約", "諦め", "他社", "使うのをやめ",
		"cancel my", "give up", "never mind", "forget it",
	}
)

// Classify returns the problem type of text. Text without any known
// keyword is ProblemGeneral.
func Classify(text string) string {
	best, bestHits := ProblemGeneral, 0
	for _, rule := range problemRules {
		if hits, _ := textutil.CountKeywords(text, rule.keywords); hits > bestHits {
			best, bestHits = rule.problemType, hits
		}
	}
	return best
}

// IsSuccessful reports whether the customer acknowledged a resolution. The
// latest customer turn carrying either signal decides; abandonment wins
// within a single turn.
func IsSuccessful(conv *model.Conversation) bool {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Role != types.RoleUser {
			continue
		}
		if textutil.ContainsAny(msg.Content, abandonmentKeywords) {
			return false
		}
		if textutil.ContainsAny(msg.Content, acknowledgementKeywords) {
			return true
		}
	}
	return false
}
