package main

import (
	"os"

	"github.com/kart-io/assist-x/cmd/assist/app"
)

func main() {
	os.Exit(app.Run())
}
