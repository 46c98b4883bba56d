// Package source запрашивает и разбирает расписание с сайта колледжа.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrUnavailable сайт расписания недоступен или ответ не разобрался.
// Для опрашивающего цикла это «данных в этом проходе нет», не повод падать.
var ErrUnavailable = errors.New("schedule source unavailable")

const (
	actionSearchParams = "getSearchParameters"
	actionSendSchedule = "sendSchedule"
	rtypeStudents      = "stds"
	rtypeMentors       = "prep"

	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

var (
	datePattern   = regexp.MustCompile(`>(\d{1,2}\.\d{1,2}\.\d{4})<`)
	groupPattern  = regexp.MustCompile(`([A-ZА-Я]+\d{1,3})`)
	mentorPattern = regexp.MustCompile(`value="([А-Яа-я\s]+)"`)
)

// Client HTTP-клиент endpoint'а расписания
type Client struct {
	httpClient *http.Client
	url        string
	logger     *zap.Logger
}

// NewClient создаёт клиент с ограниченным общим таймаутом запроса
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        endpoint,
		logger:     logger,
	}
}

// Dates возвращает даты, на которые сейчас опубликовано расписание:
// отсортированы по возрастанию, прошедшие отброшены, сегодняшняя дата
// добавляется всегда, кроме воскресенья
func (c *Client) Dates(ctx context.Context) ([]model.Date, error) {
	body, err := c.post(ctx, map[string]string{"action": actionSearchParams, "rtype": rtypeStudents})
	if err != nil {
		return nil, err
	}

	seen := make(map[model.Date]struct{})
	var dates []model.Date

	for _, m := range datePattern.FindAllStringSubmatch(body, -1) {
		d, err := model.ParseDate(m[1])
		if err != nil {
			c.logger.Warn("Skipping unparsable date from source", zap.String("raw", m[1]))
			continue
		}
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dates = append(dates, d)
		}
	}

	today := model.Today()
	if today.Weekday() != time.Sunday {
		if _, ok := seen[today]; !ok {
			dates = append(dates, today)
		}
	}

	actual := dates[:0]
	for _, d := range dates {
		if !d.Before(today) {
			actual = append(actual, d)
		}
	}
	model.SortDates(actual)

	return actual, nil
}

// Groups возвращает список кодов групп, известных сайту
func (c *Client) Groups(ctx context.Context) ([]string, error) {
	body, err := c.post(ctx, map[string]string{"action": actionSearchParams, "rtype": rtypeStudents})
	if err != nil {
		return nil, err
	}

	var groups []string
	seen := make(map[string]struct{})
	for _, m := range groupPattern.FindAllStringSubmatch(body, -1) {
		g := m[1]
		if len(g) < 2 {
			continue
		}
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			groups = append(groups, g)
		}
	}

	return groups, nil
}

// Mentors возвращает список ФИО преподавателей, известных сайту
func (c *Client) Mentors(ctx context.Context) ([]string, error) {
	body, err := c.post(ctx, map[string]string{"action": actionSearchParams, "rtype": rtypeMentors})
	if err != nil {
		return nil, err
	}

	var mentors []string
	seen := make(map[string]struct{})
	for _, m := range mentorPattern.FindAllStringSubmatch(body, -1) {
		name := strings.TrimSpace(m[1])
		if len([]rune(name)) < 3 {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			mentors = append(mentors, name)
		}
	}

	return mentors, nil
}

// GroupSchedule возвращает таблицу расписания группы на дату.
// Пустая таблица — валидный ответ «пар нет», ошибкой не считается.
func (c *Client) GroupSchedule(ctx context.Context, group string, date model.Date) (model.Table, error) {
	return c.fetchSchedule(ctx, group, date, rtypeStudents)
}

// MentorSchedule возвращает таблицу расписания преподавателя на дату
func (c *Client) MentorSchedule(ctx context.Context, mentor string, date model.Date) (model.Table, error) {
	return c.fetchSchedule(ctx, mentor, date, rtypeMentors)
}

func (c *Client) fetchSchedule(ctx context.Context, entity string, date model.Date, rtype string) (model.Table, error) {
	if strings.TrimSpace(entity) == "" {
		return nil, fmt.Errorf("entity key must not be empty")
	}

	body, err := c.post(ctx, map[string]string{
		"action": actionSendSchedule,
		"date":   date.String(),
		"value":  entity,
		"rtype":  rtype,
	})
	if err != nil {
		return nil, err
	}

	table, err := parseScheduleHTML(body, rtype == rtypeMentors)
	if err != nil {
		return nil, fmt.Errorf("%w: parse schedule for %s on %s: %v", ErrUnavailable, entity, date, err)
	}

	return table, nil
}

// post отправляет form-запрос с ограниченным числом повторов
func (c *Client) post(ctx context.Context, fields map[string]string) (string, error) {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	payload := form.Encode()

	var body string

	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewConstant(retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		body = string(data)
		return nil
	})
	if err != nil {
		c.logger.Warn("Schedule source request failed after retries", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return body, nil
}

// parseScheduleHTML разбирает HTML-ответ сайта в таблицу расписания.
// Ячейки <td> идут подряд: первые три — шапка таблицы, дальше строки пар.
// У группы строка это 3 ячейки (номер, предмет, кабинет), у преподавателя 4
// (номер, предмет, группа, кабинет). Предмет содержит <br> между названием
// и фамилией, перенос сохраняется.
func parseScheduleHTML(body string, mentor bool) (model.Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var cells []string
	doc.Find("td").Each(func(_ int, sel *goquery.Selection) {
		cells = append(cells, cellText(sel))
	})

	// шапка: «Пара», «Дисциплина», «Кабинет»
	if len(cells) <= 3 {
		return model.Table{}, nil
	}
	cells = cells[3:]

	stride := 3
	roomOffset := 2
	if mentor {
		stride = 4
		roomOffset = 3
	}

	table := make(model.Table, 0, len(cells)/stride)
	for i := 0; i+roomOffset < len(cells); i += stride {
		table = append(table, model.Entry{
			Slot:    cells[i] + "\nпара",
			Subject: cells[i+1],
			Room:    cells[i+roomOffset],
		})
	}

	return table, nil
}

// cellText вытаскивает текст ячейки, превращая <br> в перенос строки
func cellText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, node := range sel.Nodes {
		writeNodeText(node, &b)
	}
	return strings.TrimSpace(b.String())
}

func writeNodeText(node *html.Node, b *strings.Builder) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		switch {
		case child.Type == html.TextNode:
			b.WriteString(strings.TrimSpace(child.Data))
		case child.Data == "br":
			b.WriteString("\n")
		default:
			writeNodeText(child, b)
		}
	}
}
