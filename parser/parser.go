package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/scrapedesk/models"
)

// DefaultCategory labels records submitted without a category.
const DefaultCategory = "General"

// ValidateRecord ensures the scraper captured the required fields.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record missing title")
	}
	if strings.TrimSpace(r.SourceURL) == "" {
		return fmt.Errorf("record missing source for %s", r.Title)
	}
	switch r.ContentType {
	case models.ContentTypeBooks, models.ContentTypeMovies, models.ContentTypeTVShows:
	default:
		return fmt.Errorf("record %s has unsupported content type %q", r.Title, r.ContentType)
	}
	return nil
}

// NormalizePrice keeps only digits and the decimal point, dropping currency
// symbols and mis-decoded bytes. An empty result becomes "0.00".
func NormalizePrice(price string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' {
			return r
		}
		return -1
	}, price)
	if cleaned == "" {
		return "0.00"
	}
	return cleaned
}

// NormalizeAvailability collapses whitespace in the availability text.
func NormalizeAvailability(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "N/A"
	}
	return text
}

// NormalizeCategory trims the category, defaulting to DefaultCategory.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return DefaultCategory
	}
	return category
}

// NormalizeRating turns a rating into its numeric text. Star ratings
// ("Three") map through RatingToNumeric and scaled scores ("8.8/10") keep
// their score.
func NormalizeRating(rating string) string {
	rating = strings.TrimSpace(rating)
	if rating == "" {
		return "N/A"
	}
	if n, ok := RatingToNumeric(rating); ok {
		return strconv.Itoa(n)
	}
	if score, _, found := strings.Cut(rating, "/"); found {
		return strings.TrimSpace(score)
	}
	return rating
}

// RatingToNumeric converts a textual star rating to a numeric scale.
func RatingToNumeric(rating string) (int, bool) {
	switch strings.TrimSpace(rating) {
	case "Zero":
		return 0, true
	case "One":
		return 1, true
	case "Two":
		return 2, true
	case "Three":
		return 3, true
	case "Four":
		return 4, true
	case "Five":
		return 5, true
	default:
		return 0, false
	}
}
