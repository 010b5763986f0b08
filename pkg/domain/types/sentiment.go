package types

import "github.com/m-mizutani/goerr/v2"

// Sentiment represents a sentiment
type Sentiment string

const (
	SentimentFrustrated Sentiment = "frustrated"
	SentimentUrgent     Sentiment = "urgent"
	SentimentPositive   Sentiment = "positive"
	SentimentNegative   Sentiment = "negative"
	SentimentNeutral    Sentiment = "neutral"
)

// AllSentiments returns all valid values of Sentiment
func AllSentiments() []Sentiment {
	return []Sentiment{
		SentimentFrustrated,
		SentimentUrgent,
		SentimentPositive,
		SentimentNegative,
		SentimentNeutral,
	}
}

// IsValid checks if the sentiment is valid
func (x Sentiment) IsValid() bool {
	switch x {
	case SentimentFrustrated,
		SentimentUrgent,
		SentimentPositive,
		SentimentNegative,
		SentimentNeutral:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x Sentiment) String() string {
	return string(x)
}

// ParseSentiment parses a string into a Sentiment
func ParseSentiment(s string) (Sentiment, error) {
	v := Sentiment(s)
	if !v.IsValid() {
		return "", goerr.New("invalid sentiment", goerr.V("value", s))
	}
	return v, nil
}

// Urgency represents an urgency
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// AllUrgencies returns all valid values of Urgency
func AllUrgencies() []Urgency {
	return []Urgency{
		UrgencyLow,
		UrgencyMedium,
		UrgencyHigh,
	}
}

// IsValid checks if the urgency is valid
func (x Urgency) IsValid() bool {
	switch x {
	case UrgencyLow,
		UrgencyMedium,
		UrgencyHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x Urgency) String() string {
	return string(x)
}

// ParseUrgency parses a string into an Urgency
func ParseUrgency(s string) (Urgency, error) {
	v := Urgency(s)
	if !v.IsValid() {
		return "", goerr.New("invalid urgency", goerr.V("value", s))
	}
	return v, nil
}
// Rank returns ordering weight of the urgency. Higher is more urgent.
func (x Urgency) Rank() int {
	switch x {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}
