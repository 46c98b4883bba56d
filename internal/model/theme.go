package model

// Theme название цветовой темы оформления расписания
type Theme string

const (
	ThemeClassic  Theme = "Classic"
	ThemeMidNight Theme = "MidNight"
	ThemeNight    Theme = "Night"
	ThemeLightFog Theme = "LightFog"
	ThemeFog      Theme = "Fog"
	ThemeDarkFog  Theme = "DarkFog"
	ThemeMtecCore Theme = "MtecCore"
)

// DefaultTheme тема по умолчанию для новых пользователей и чатов
const DefaultTheme = ThemeClassic

// Themes все доступные темы в порядке показа пользователю
var Themes = []Theme{
	ThemeClassic,
	ThemeMidNight,
	ThemeNight,
	ThemeLightFog,
	ThemeFog,
	ThemeDarkFog,
	ThemeMtecCore,
}

// ValidTheme проверяет что имя темы известно
func ValidTheme(name string) bool {
	for _, t := range Themes {
		if string(t) == name {
			return true
		}
	}
	return false
}
