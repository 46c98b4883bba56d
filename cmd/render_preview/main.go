// Утилита для проверки тем оформления: рисует образец расписания
// в каждой теме и складывает PNG в текущую директорию.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/render"
)

func main() {
	table := model.Table{
		{Slot: "1\nпара", Subject: "Математика\nИванов И.И.", Room: "214"},
		{Slot: "2\nпара", Subject: "Физика\nПетров П.П.", Room: "310"},
		{Slot: "3\nпара", Subject: "Программирование\nСидоров С.С.", Room: "405а"},
		{Slot: "4\nпара", Subject: "Физкультура", Room: "спортзал"},
	}
	date := model.Today()

	renderer := render.NewRenderer()

	for _, theme := range model.Themes {
		image, err := renderer.Render(table, date, "ИТ205", theme)
		if err != nil {
			log.Fatalf("render %s: %v", theme, err)
		}

		name := fmt.Sprintf("preview_%s.png", theme)
		if err := os.WriteFile(name, image, 0o644); err != nil {
			log.Fatalf("write %s: %v", name, err)
		}
		fmt.Println("wrote", name)
	}
}
