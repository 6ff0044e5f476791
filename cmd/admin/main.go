package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"fundchat/backend/internal/config"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"

	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

  import <project.json>          create a project or update its details
  deploy <projectuid>            open the project page and its chat
  undeploy <projectuid>          close the project page
  threshold <projectuid> <n>     set the freeze quorum (0 = configured default)
  freeze <projectuid>            mark the project frozen
  show <projectuid>              print the project record`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db)
	if err := storageSvc.AutoMigrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	if len(os.Args) < 3 {
		fmt.Println(usage)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	command, arg := os.Args[1], os.Args[2]

	switch command {
	case "import":
		uid, err := importProject(ctx, storageSvc, arg)
		if err != nil {
			log.Fatalf("Error importing project: %v", err)
		}
		fmt.Printf("Project %s saved.\n", uid)
	case "deploy", "undeploy":
		if err := storageSvc.SetDeployed(ctx, arg, command == "deploy"); err != nil {
			log.Fatalf("Error updating project: %v", err)
		}
		fmt.Printf("Project %s: %sed.\n", arg, command)
	case "threshold":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin threshold <projectuid> <n>")
			os.Exit(1)
		}
		n, err := strconv.Atoi(os.Args[3])
		if err != nil || n < 0 {
			fmt.Println("Invalid threshold. Please provide a non-negative integer.")
			os.Exit(1)
		}
		if err := storageSvc.SetFreezeThreshold(ctx, arg, n); err != nil {
			log.Fatalf("Error updating project: %v", err)
		}
		fmt.Printf("Project %s: freeze threshold %d.\n", arg, n)
	case "freeze":
		if err := storageSvc.MarkFrozen(ctx, arg); err != nil {
			log.Fatalf("Error freezing project: %v", err)
		}
		fmt.Printf("Project %s has been frozen.\n", arg)
	case "show":
		project, err := storageSvc.GetProject(ctx, arg)
		if err != nil {
			log.Fatalf("Error loading project: %v", err)
		}
		fmt.Println(describe(project, cfg.FreezeThreshold, time.Now()))
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func importProject(ctx context.Context, s storage.Storage, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var project models.Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	for i := range project.Milestones {
		if project.Milestones[i].Position == 0 {
			project.Milestones[i].Position = i + 1
		}
	}
	if err := s.SaveProject(ctx, &project); err != nil {
		return "", err
	}
	return project.ProjectUID, nil
}

func describe(p *models.Project, defaultThreshold int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", p.Name, p.ProjectUID)
	fmt.Fprintf(&b, "  owner:     %s\n", p.OwnerAddress)
	fmt.Fprintf(&b, "  raised:    %d / %d (%.0f%%)\n", p.AmountRaised, p.FundingGoal, p.FundedPercent())
	fmt.Fprintf(&b, "  days left: %d\n", p.DaysUntilExpiry(now))
	fmt.Fprintf(&b, "  deployed:  %t\n", p.Deployed)
	fmt.Fprintf(&b, "  frozen:    %t (quorum %d)\n", p.Frozen, p.EffectiveFreezeThreshold(defaultThreshold))

	lines := lo.Map(p.Milestones, func(m models.Milestone, _ int) string {
		return fmt.Sprintf("  %d. %s", m.Position, m.Name)
	})
	if len(lines) > 0 {
		b.WriteString("  milestones:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}
