package main

import (
	"log"

	"chatnform/internal/app"
)

func main() {
	if err := app.RunFanout(); err != nil {
		log.Fatal(err)
	}
}
