package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTable = model.Table{
	{Slot: "1\nпара", Subject: "Математика\nИванов И.И.", Room: "204"},
	{Slot: "2\nпара", Subject: "Физика\nПетров П.П.", Room: "305"},
	{Slot: "3\nпара", Subject: "Программирование\nСидорова А.А.", Room: "412"},
}

func TestRenderProducesValidPNG(t *testing.T) {
	r := NewRenderer()
	date := model.Date{Year: 2024, Month: 3, Day: 2}

	data, err := r.Render(sampleTable, date, "ИТ205", model.ThemeClassic)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, imageWidth, bounds.Dx())
	// шапка плюс строка на каждую пару
	assert.Equal(t, headerHeight+len(sampleTable)*rowHeight, bounds.Dy())
}

func TestRenderAllThemes(t *testing.T) {
	r := NewRenderer()
	date := model.Date{Year: 2024, Month: 3, Day: 2}

	for _, theme := range model.Themes {
		data, err := r.Render(sampleTable, date, "ИТ205", theme)
		require.NoError(t, err, "theme %s", theme)
		assert.NotEmpty(t, data, "theme %s", theme)
	}
}

func TestRenderUnknownThemeFallsBack(t *testing.T) {
	r := NewRenderer()
	date := model.Date{Year: 2024, Month: 3, Day: 2}

	data, err := r.Render(sampleTable, date, "ИТ205", model.Theme("Nonexistent"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
