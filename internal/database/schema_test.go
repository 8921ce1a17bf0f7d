package database

import (
	"io/fs"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	content, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
	if err != nil {
		t.Fatalf("Failed to read migration %s: %v", name, err)
	}
	return string(content)
}

func TestMigrationFilesExist(t *testing.T) {
	expectedMigrations := []string{
		"00001_create_products_table.sql",
		"00002_create_product_variants_table.sql",
		"00003_create_vendors_table.sql",
		"00004_create_vendor_index_outbox_table.sql",
	}

	for _, migration := range expectedMigrations {
		if _, err := fs.Stat(migrationsFS, migrationsDir+"/"+migration); err != nil {
			t.Errorf("Migration file %s is not embedded: %v", migration, err)
		}
	}
}

func TestMigrationFilesHaveUpAndDown(t *testing.T) {
	files, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("Failed to read migrations directory: %v", err)
	}

	sqlFileCount := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		sqlFileCount++
		content := readMigration(t, file.Name())

		for _, directive := range []string{
			"-- +goose Up",
			"-- +goose Down",
			"-- +goose StatementBegin",
			"-- +goose StatementEnd",
		} {
			if !strings.Contains(content, directive) {
				t.Errorf("Migration file %s missing '%s' directive", file.Name(), directive)
			}
		}
	}

	if sqlFileCount == 0 {
		t.Error("No SQL migration files found")
	}
}

func TestMigrationFilesCreateExpectedTables(t *testing.T) {
	expectedTables := map[string]string{
		"products":            "00001_create_products_table.sql",
		"product_variants":    "00002_create_product_variants_table.sql",
		"vendors":             "00003_create_vendors_table.sql",
		"vendor_index_outbox": "00004_create_vendor_index_outbox_table.sql",
	}

	for tableName, migrationFile := range expectedTables {
		content := readMigration(t, migrationFile)

		if !strings.Contains(content, "CREATE TABLE IF NOT EXISTS "+tableName+" (") {
			t.Errorf("Migration file %s does not create table %s", migrationFile, tableName)
		}
		if !strings.Contains(content, "DROP TABLE IF EXISTS "+tableName+";") {
			t.Errorf("Migration file %s does not drop table %s in down section", migrationFile, tableName)
		}
	}
}

func TestProductsTableHasRequiredColumns(t *testing.T) {
	content := readMigration(t, "00001_create_products_table.sql")

	requiredColumns := []string{
		"id TEXT PRIMARY KEY",
		"product_type VARCHAR",
		"price DOUBLE PRECISION",
		"discount_price DOUBLE PRECISION",
		"vendor_id TEXT NOT NULL",
		"views INTEGER",
		"sold_count INTEGER",
		"wishlist_count INTEGER",
		"cart_adds INTEGER",
		"trending_score INTEGER",
		"last_trending_update TIMESTAMPTZ",
		"created_at TIMESTAMPTZ",
		"updated_at TIMESTAMPTZ",
		"version BIGINT",
	}

	for _, column := range requiredColumns {
		if !strings.Contains(content, column) {
			t.Errorf("Products table missing required column definition: %s", column)
		}
	}

	for _, check := range []string{"views >= 0", "wishlist_count >= 0"} {
		if !strings.Contains(content, check) {
			t.Errorf("Products table missing counter constraint %s", check)
		}
	}
}

func TestVariantsCascadeWithProduct(t *testing.T) {
	content := readMigration(t, "00002_create_product_variants_table.sql")

	if !strings.Contains(content, "FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE") {
		t.Error("Variants table missing cascading foreign key to products")
	}
	if !strings.Contains(content, "attributes JSONB") {
		t.Error("Variants table missing attributes column")
	}
}

func TestOutboxHasPendingIndex(t *testing.T) {
	content := readMigration(t, "00004_create_vendor_index_outbox_table.sql")

	for _, op := range []string{"'add'", "'remove'", "'sale'"} {
		if !strings.Contains(content, op) {
			t.Errorf("Outbox op constraint missing %s", op)
		}
	}
	if !strings.Contains(content, "WHERE applied_at IS NULL") {
		t.Error("Outbox missing partial index on pending records")
	}
}
