package main

import (
	"context"
	"fmt"
	"os"

	"documerge/internal/config"
	"documerge/internal/models"
	"documerge/internal/repository"
	"documerge/internal/secrets"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "templates", Short: "Inspect stored templates"}
	cmd.AddCommand(templatesListCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates with their wizard stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, cfg *config.Config, db *gorm.DB, _ *zap.Logger) error {
				sealer, err := secrets.NewSealer(cfg.Security.CredentialsKey)
				if err != nil {
					return err
				}
				items, err := repository.NewTemplateRepository(db, sealer).ListTemplates(ctx, query)
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Base", "Table", "Mappings", "Updated"})
				for _, t := range items {
					base, tableName := "", ""
					if t.AirtableConfig != nil {
						base, tableName = t.AirtableConfig.BaseID, t.AirtableConfig.TableName
					}
					tw.AppendRow(table.Row{t.ID, t.Name, t.Stage(), base, tableName, len(t.FieldMappings), t.UpdatedAt.Format("2006-01-02 15:04")})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(items)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name or description")
	return cmd
}

func generationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "generations", Short: "Inspect generation history"}
	cmd.AddCommand(generationsListCmd())
	return cmd
}

func generationsListCmd() *cobra.Command {
	var f models.GenerationFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = models.GenerationStatus(status)
			if f.Status != "" && !f.Status.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withDB(cmd, func(ctx context.Context, _ *config.Config, db *gorm.DB, _ *zap.Logger) error {
				items, total, err := repository.NewGenerationRepository(db).ListGenerations(ctx, f)
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Record", "Status", "Filename", "Pages", "Created"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.TemplateName, g.RecordID, g.Status, g.Filename, g.Pages, g.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, completed, failed)")
	cmd.Flags().StringVar(&f.TemplateID, "template", "", "template id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}
