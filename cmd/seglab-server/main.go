package main

import (
	"log"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/app"
)

func main() {
	cfg, err := app.New()
	if err != nil {
		log.Fatal(err)
	}

	if err := app.Run(cfg); err != nil {
		log.Fatal(err)
	}
}
