package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/yungbote/headless-lms/internal/app"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "seed.yaml", "YAML seed file")
	flag.Parse()

	f, err := LoadSeedFile(path)
	if err != nil {
		fmt.Printf("load seed: %v\n", err)
		os.Exit(1)
	}
	root, err := f.Root()
	if err != nil {
		fmt.Printf("seed namespace: %v\n", err)
		os.Exit(1)
	}

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	s := newSeeder(application.Log, application.Repos, application.Services.OAuth, root)
	counts, err := s.Run(context.Background(), application.DB, f)
	if err != nil {
		application.Log.Error("Seeding failed", "error", err, "created", counts.Created)
		application.Close()
		os.Exit(1)
	}
	application.Log.Info("Seeding finished", "file", path, "created", counts.Created, "skipped", counts.Skipped)
}
