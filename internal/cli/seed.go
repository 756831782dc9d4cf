package cli

import (
	"fmt"

	pgloader "exam-session-engine/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewSeedCmd writes the sample exams to Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Store the sample exams in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			loader := pgloader.NewExamLoader(pool, log)
			for _, doc := range sampleExams() {
				if err := loader.SaveExam(ctx, doc.Exam.ID, doc); err != nil {
					return err
				}
				log.Info().Str("exam_id", doc.Exam.ID).Int("questions", len(doc.Questions)).Msg("exam stored")
			}
			return nil
		},
	}
}
