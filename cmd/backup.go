package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/backup"
	"github.com/pable/racquet-metrics/internal/storage"
)

var backupBucket string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload the local collection to S3",
	Long: `Upload every stored collection snapshot to the configured S3 bucket as
zstd-compressed JSON. Credentials come from the standard AWS environment.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupBucket, "bucket", "", "S3 bucket (default backup.bucket from config)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bucket := cfg.Backup.Bucket
	if backupBucket != "" {
		bucket = backupBucket
	}
	if bucket == "" {
		return fmt.Errorf("no bucket: set backup.bucket in the config or pass --bucket")
	}

	db, err := storage.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	up, err := backup.NewUploaderFromEnv(ctx, cfg.Backup.Region, bucket, cfg.Backup.Prefix)
	if err != nil {
		return err
	}
	objs, err := up.Run(ctx, db)
	for _, o := range objs {
		fmt.Fprintf(os.Stdout, "Uploaded s3://%s/%s (version %d, %d bytes)\n", bucket, o.Key, o.Version, o.Size)
	}
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if len(objs) == 0 {
		fmt.Fprintln(os.Stdout, "Nothing to back up.")
	}
	return nil
}
