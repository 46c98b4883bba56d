// Package render рисует таблицу расписания в PNG по выбранной теме.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// Константы размеров и отступов
const (
	imageWidth    = 1200
	headerHeight  = 110
	rowHeight     = 96
	cellPaddingX  = 14
	borderWidth   = 2.0
	lineSpacing   = 1.4
	minTableRows  = 1
	slotColWidth  = 0.14
	roomColWidth  = 0.18
)

// palette цвета темы: фон, шапка, текст шапки, рамка, текст строк, фон строк
type palette struct {
	background color.Color
	headerBg   color.Color
	headerText color.Color
	border     color.Color
	bodyText   color.Color
	bodyBg     color.Color
}

// Палитры перенесены из исходных конфигов тем
var palettes = map[model.Theme]palette{
	model.ThemeClassic: {
		background: hexColor("#ffffff"), headerBg: hexColor("#ffffff"), headerText: hexColor("#000000"),
		border: hexColor("#000000"), bodyText: hexColor("#000000"), bodyBg: hexColor("#ffffff"),
	},
	model.ThemeMidNight: {
		background: hexColor("#131618"), headerBg: hexColor("#1d2124"), headerText: hexColor("#ffffff"),
		border: hexColor("#6d6d6b"), bodyText: hexColor("#ffffff"), bodyBg: hexColor("#1d2124"),
	},
	model.ThemeNight: {
		background: hexColor("#131618"), headerBg: hexColor("#131618"), headerText: hexColor("#ffffff"),
		border: hexColor("#6d6d6b"), bodyText: hexColor("#ffffff"), bodyBg: hexColor("#131618"),
	},
	model.ThemeLightFog: {
		background: hexColor("#F2F2F2"), headerBg: hexColor("#FFFFFF"), headerText: hexColor("#4F4F4F"),
		border: hexColor("#D6D6D6"), bodyText: hexColor("#474747"), bodyBg: hexColor("#FFFFFF"),
	},
	model.ThemeFog: {
		background: hexColor("#4A4A4A"), headerBg: hexColor("#333333"), headerText: hexColor("#FFFFFF"),
		border: hexColor("#6E6E6E"), bodyText: hexColor("#EDEDED"), bodyBg: hexColor("#333333"),
	},
	model.ThemeDarkFog: {
		background: hexColor("#2E2E2E"), headerBg: hexColor("#1C1C1C"), headerText: hexColor("#E0E0E0"),
		border: hexColor("#474747"), bodyText: hexColor("#E3E3E3"), bodyBg: hexColor("#1C1C1C"),
	},
	model.ThemeMtecCore: {
		background: hexColor("#ebebeb"), headerBg: hexColor("#ebebeb"), headerText: hexColor("#508da3"),
		border: hexColor("#b3b3b3"), bodyText: hexColor("#3d3d3d"), bodyBg: hexColor("#e3e3e3"),
	},
}

// Renderer отрисовщик таблиц расписания
type Renderer struct{}

// NewRenderer создаёт отрисовщик
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render рисует таблицу расписания и возвращает PNG-байты.
// Картинка держится только в памяти, временные файлы не создаются.
func (r *Renderer) Render(table model.Table, date model.Date, entity string, theme model.Theme) ([]byte, error) {
	pal, ok := palettes[theme]
	if !ok {
		pal = palettes[model.DefaultTheme]
	}

	rows := len(table)
	if rows < minTableRows {
		rows = minTableRows
	}
	height := headerHeight + rows*rowHeight

	dc := gg.NewContext(imageWidth, height)
	dc.SetColor(pal.background)
	dc.Clear()

	title := fmt.Sprintf("%s — %s (%s)", entity, date, date.WeekdayName())
	drawHeader(dc, pal, title)

	colX := columnEdges()
	for i, entry := range table {
		top := float64(headerHeight + i*rowHeight)
		drawRow(dc, pal, colX, top, entry)
	}

	// рамка по внешнему контуру
	dc.SetColor(pal.border)
	dc.SetLineWidth(borderWidth)
	dc.DrawRectangle(borderWidth/2, borderWidth/2, float64(imageWidth)-borderWidth, float64(height)-borderWidth)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode schedule image: %w", err)
	}
	return buf.Bytes(), nil
}

func drawHeader(dc *gg.Context, pal palette, title string) {
	dc.SetColor(pal.headerBg)
	dc.DrawRectangle(0, 0, float64(imageWidth), headerHeight)
	dc.Fill()

	loadFace(dc)
	dc.SetColor(pal.headerText)
	dc.DrawStringAnchored(title, float64(imageWidth)/2, headerHeight/2, 0.5, 0.5)

	dc.SetColor(pal.border)
	dc.SetLineWidth(borderWidth)
	dc.DrawLine(0, headerHeight, float64(imageWidth), headerHeight)
	dc.Stroke()
}

func drawRow(dc *gg.Context, pal palette, colX [4]float64, top float64, entry model.Entry) {
	dc.SetColor(pal.bodyBg)
	dc.DrawRectangle(0, top, float64(imageWidth), rowHeight)
	dc.Fill()

	loadFace(dc)
	dc.SetColor(pal.bodyText)

	cells := [3]string{entry.Slot, entry.Subject, entry.Room}
	for i, cell := range cells {
		centerX := (colX[i] + colX[i+1]) / 2
		drawCellText(dc, cell, centerX, top+rowHeight/2, colX[i+1]-colX[i]-2*cellPaddingX)
	}

	dc.SetColor(pal.border)
	dc.SetLineWidth(borderWidth / 2)
	for i := 1; i < 3; i++ {
		dc.DrawLine(colX[i], top, colX[i], top+rowHeight)
	}
	dc.DrawLine(0, top+rowHeight, float64(imageWidth), top+rowHeight)
	dc.Stroke()
}

// drawCellText рисует многострочный текст ячейки по центру, с переносом
func drawCellText(dc *gg.Context, text string, centerX, centerY, maxWidth float64) {
	lines := strings.Split(text, "\n")
	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		wrapped = append(wrapped, dc.WordWrap(line, maxWidth)...)
	}
	dc.DrawStringWrapped(strings.Join(wrapped, "\n"), centerX, centerY, 0.5, 0.5, maxWidth, lineSpacing, gg.AlignCenter)
}

// columnEdges границы трёх колонок: пара, предмет, кабинет
func columnEdges() [4]float64 {
	w := float64(imageWidth)
	return [4]float64{
		0,
		w * slotColWidth,
		w * (1 - roomColWidth),
		w,
	}
}

// loadFace ставит шрифт. Векторные шрифты в репозитории не возятся,
// используется basicfont.
func loadFace(dc *gg.Context) {
	var face font.Face = basicfont.Face7x13
	dc.SetFontFace(face)
}

func hexColor(s string) color.Color {
	var r, g, b uint8
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = strings.Repeat(string(s[0]), 2) + strings.Repeat(string(s[1]), 2) + strings.Repeat(string(s[2]), 2)
	}
	fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
