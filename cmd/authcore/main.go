package main

import (
	"flag"
	"log"
	"os"

	"github.com/fintrac/authcore/app"
	"go.uber.org/zap"
)

func main() {
	noMail := flag.Bool("no-mail", false, "Run without sending verification and alert emails")
	flag.Parse()

	builder := app.NewApp().WithAutoConfig()
	if *noMail {
		builder = builder.WithoutMail()
	}

	application, err := builder.Build()
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}

	if err := application.Run(); err != nil {
		application.Logger().Error("application exited with error", zap.Error(err))
		os.Exit(1)
	}
}
