package queue

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/pigeonpost/go-pigeon/mail"
)

// SQLDeliveryLog stores delivered mail in a MySQL table instead of the
// filesystem, one row per delivery.
type SQLDeliveryLog struct {
	db     *sql.DB
	insert *sql.Stmt
}

const createDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
	id BIGINT NOT NULL AUTO_INCREMENT,
	host VARCHAR(255) NOT NULL,
	user VARCHAR(255) NOT NULL,
	sender VARCHAR(255) NOT NULL,
	subject VARCHAR(255) NOT NULL,
	encrypted TINYINT(1) NOT NULL,
	recipients TEXT NOT NULL,
	body MEDIUMTEXT NOT NULL,
	delivered_at DATETIME NOT NULL,
	PRIMARY KEY (id),
	KEY mailbox (host, user)
)`

const insertDelivery = `INSERT INTO deliveries
	(host, user, sender, subject, encrypted, recipients, body, delivered_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// NewSQLDeliveryLog opens the MySQL database at dsn, creates the deliveries
// table when missing and prepares the insert.
func NewSQLDeliveryLog(dsn string) (*SQLDeliveryLog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec(createDeliveriesTable); err != nil {
		db.Close()
		return nil, err
	}
	insert, err := db.Prepare(insertDelivery)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDeliveryLog{db: db, insert: insert}, nil
}

func (sl *SQLDeliveryLog) Deliver(host, user string, msg *mail.Message) error {
	recipients := strings.Join(append(append([]string{}, msg.To...), msg.Cc...), ", ")
	_, err := sl.insert.Exec(
		host,
		user,
		msg.From,
		msg.Subject,
		msg.Encrypted,
		recipients,
		msg.Body,
		time.Now(),
	)
	return err
}

// Close releases the prepared statement and the pool.
func (sl *SQLDeliveryLog) Close() error {
	if sl.insert != nil {
		sl.insert.Close()
	}
	return sl.db.Close()
}
