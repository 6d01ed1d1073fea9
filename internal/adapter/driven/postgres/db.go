// Package postgres implements the credential store and audit trail ports on
// PostgreSQL through gorm. Mutations take row locks with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL. Driver errors are translated so unique
// violations surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return gdb, nil
}

// schemaStatements hold the constraints AutoMigrate cannot express.
var schemaStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_active_service
		ON credentials (service_id) WHERE provisioning_status <> 'deprovisioned'`,
	`DO $$ BEGIN
		ALTER TABLE credentials ADD CONSTRAINT chk_credentials_remote_id
			CHECK ((provisioning_status = 'provisioned') = (remote_subscriber_id IS NOT NULL));
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE OR REPLACE FUNCTION audit_entries_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_entries is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_entries_no_modify ON audit_entries`,
	`CREATE TRIGGER audit_entries_no_modify
		BEFORE UPDATE OR DELETE ON audit_entries
		FOR EACH ROW EXECUTE FUNCTION audit_entries_append_only()`,
}

// Migrate creates or updates the schema. It is safe to call on every startup.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&credentialModel{}, &auditEntryModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range schemaStatements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
