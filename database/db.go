package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/railcorehq/railcore/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	err = BootstrapTables(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// BootstrapTables creates the railcore schema and every table the service
// reads or writes. Safe to run repeatedly.
func BootstrapTables(db *sql.DB) error {
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS railcore`); err != nil {
		return err
	}
	for _, create := range []func(*sql.DB) error{
		createInstrumentTable,
		createAuthorizationDecisionTable,
		createSettlementRequestTable,
		createSettlementAttemptTable,
		createSLAEventTable,
		createReconciliationReportTable,
		createReconciliationRecordTable,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

// createInstrumentTable creates a PostgreSQL table for the Instrument struct
func createInstrumentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.instruments (
			id SERIAL PRIMARY KEY,
			instrument_id TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			per_transaction_limit BIGINT NOT NULL DEFAULT 0,
			daily_limit BIGINT NOT NULL DEFAULT 0,
			weekly_limit BIGINT NOT NULL DEFAULT 0,
			monthly_limit BIGINT NOT NULL DEFAULT 0,
			capabilities TEXT[],
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	return err
}

// createAuthorizationDecisionTable creates the table holding one immutable row
// per idempotency key.
func createAuthorizationDecisionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.authorization_decisions (
			id SERIAL PRIMARY KEY,
			decision_id TEXT NOT NULL UNIQUE,
			idempotency_key TEXT NOT NULL UNIQUE,
			instrument_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			category_code TEXT,
			approved BOOLEAN NOT NULL,
			auth_code TEXT,
			reason_code TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createSettlementRequestTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.settlement_requests (
			id SERIAL PRIMARY KEY,
			reference TEXT NOT NULL UNIQUE,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			priority_tier TEXT NOT NULL,
			account_number TEXT NOT NULL,
			routing_number TEXT,
			required_capabilities TEXT[],
			status TEXT NOT NULL,
			deadline TIMESTAMP NOT NULL,
			attempt_cycle INT NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP,
			sla_warned BOOLEAN NOT NULL DEFAULT FALSE,
			manual_review BOOLEAN NOT NULL DEFAULT FALSE,
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP,
			meta_data JSONB
		)
	`)
	return err
}

func createSettlementAttemptTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.settlement_attempts (
			id SERIAL PRIMARY KEY,
			attempt_id TEXT NOT NULL UNIQUE,
			reference TEXT NOT NULL REFERENCES railcore.settlement_requests(reference),
			rail TEXT NOT NULL,
			cycle INT NOT NULL,
			outcome TEXT NOT NULL,
			external_ref TEXT,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func createSLAEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.sla_events (
			id SERIAL PRIMARY KEY,
			reference TEXT NOT NULL,
			event_type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createReconciliationReportTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.reconciliation_reports (
			id SERIAL PRIMARY KEY,
			report_id TEXT NOT NULL UNIQUE,
			range_start TIMESTAMP NOT NULL,
			range_end TIMESTAMP NOT NULL,
			total INT NOT NULL DEFAULT 0,
			reconciled INT NOT NULL DEFAULT 0,
			mismatched INT NOT NULL DEFAULT 0,
			missing INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP
		)
	`)
	return err
}

func createReconciliationRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS railcore.reconciliation_records (
			id SERIAL PRIMARY KEY,
			record_id TEXT NOT NULL UNIQUE,
			report_id TEXT NOT NULL REFERENCES railcore.reconciliation_reports(report_id),
			attempt_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			rail TEXT NOT NULL,
			class TEXT NOT NULL,
			internal_amount BIGINT NOT NULL,
			external_amount BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
