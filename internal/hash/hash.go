// Package hash вычисляет стабильный дайджест содержимого расписания.
// Перед хешированием текст нормализуется, поэтому косметические отличия
// HTML-вёрстки сайта (регистр, пробелы, entity-кодирование, диакритика)
// не считаются изменением расписания.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// separator разделитель ячеек и строк в канонической форме.
// Управляющий символ, который не может встретиться в нормализованном тексте.
const separator = "\x1f"

var (
	zeroWidthRe  = regexp.MustCompile("[\u200B-\u200F\uFEFF]")
	whitespaceRe = regexp.MustCompile(`\s+`)

	// удаление combining-символов после разложения NFD
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// NormalizationError ошибка нормализации ячейки, указывает на строку таблицы
type NormalizationError struct {
	Row int
	Err error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize schedule row %d: %v", e.Row, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Digest вычисляет SHA-256 от канонической формы таблицы расписания.
// Детерминирован: семантически одинаковые таблицы дают одинаковый дайджест.
// Пустая таблица даёт дайджест пустой строки — это валидное значение
// «пар нет», а не ошибка.
func Digest(table model.Table) (string, error) {
	rows := make([]string, 0, len(table))

	for i, entry := range table {
		cells := [3]string{entry.Slot, entry.Subject, entry.Room}

		normalized := make([]string, 0, len(cells))
		for _, cell := range cells {
			text, err := normalizeText(cell)
			if err != nil {
				return "", &NormalizationError{Row: i, Err: err}
			}
			normalized = append(normalized, text)
		}

		rows = append(rows, strings.Join(normalized, separator))
	}

	canonical := strings.Join(rows, separator)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// normalizeText приводит текст ячейки к канонической форме:
// HTML-entities → NFKC → zero-width в пробелы → снятие диакритики →
// casefold → схлопывание пробелов → trim
func normalizeText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("invalid UTF-8 in %q", text)
	}

	text = html.UnescapeString(text)
	text = norm.NFKC.String(text)
	text = zeroWidthRe.ReplaceAllString(text, " ")

	stripped, _, err := transform.String(stripMarks, text)
	if err != nil {
		return "", fmt.Errorf("strip combining marks: %w", err)
	}
	text = stripped

	// cases.Caser stateful, поэтому создаётся на каждый вызов
	text = cases.Fold().String(text)
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text), nil
}
