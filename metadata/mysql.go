package metadata

import (
	"database/sql"
	"log"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// mysqlStore implements Store on a MySQL database.
type mysqlStore struct {
	db *sql.DB
}

var _ Store = &mysqlStore{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
	mysqlschema3,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMySQL connects to a MySQL database and migrates it to the current
// schema. dial is in the form the mysql driver expects, e.g.
// "user:password@tcp(localhost:3306)/haystack".
func NewMySQL(dial string) (Store, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open MySQL: %s", err.Error())
		return nil, errors.Wrap(err, "open mysql")
	}
	return &mysqlStore{db: db}, nil
}

func (ms *mysqlStore) GetFile(id string) (*FileInfo, error) {
	const query = `
		SELECT author, author_name, channel_id, guild_id, message_id,
			file_name, mimetype, url, size, height, width, content,
			created_at
		FROM files
		WHERE file = ?
		LIMIT 1`

	info := &FileInfo{ID: id}
	var created sql.NullString
	err := ms.db.QueryRow(query, id).Scan(
		&info.AuthorID, &info.AuthorName, &info.ChannelID, &info.GuildID,
		&info.MessageID, &info.Filename, &info.Mimetype, &info.URL,
		&info.Size, &info.Height, &info.Width, &info.Content, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "get file")
	}
	if created.Valid {
		info.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created.String)
	}
	return info, nil
}

func (ms *mysqlStore) SetFile(info *FileInfo) error {
	const query = `
		INSERT INTO files
			(file, author, author_name, channel_id, guild_id, message_id,
			file_name, mimetype, url, size, height, width, content,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			url=VALUES(url), file_name=VALUES(file_name),
			mimetype=VALUES(mimetype), size=VALUES(size),
			height=VALUES(height), width=VALUES(width),
			content=VALUES(content)`

	_, err := ms.db.Exec(query,
		info.ID, info.AuthorID, info.AuthorName, info.ChannelID,
		info.GuildID, info.MessageID, info.Filename, info.Mimetype,
		info.URL, info.Size, info.Height, info.Width, info.Content,
		info.CreatedAt)
	return errors.Wrap(err, "set file")
}

func (ms *mysqlStore) DeleteFile(id string) error {
	_, err := ms.db.Exec(`DELETE FROM files WHERE file = ?`, id)
	return errors.Wrap(err, "delete file")
}

func (ms *mysqlStore) SetGuild(info *GuildInfo) error {
	const query = `
		INSERT INTO guilds
			(guild, name, owner_id, owner_name, members, max_members,
			filesize_limit, description, large, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name=VALUES(name), owner_id=VALUES(owner_id),
			owner_name=VALUES(owner_name), members=VALUES(members),
			max_members=VALUES(max_members),
			filesize_limit=VALUES(filesize_limit),
			description=VALUES(description), large=VALUES(large)`

	_, err := ms.db.Exec(query,
		info.ID, info.Name, info.OwnerID, info.OwnerName, info.Members,
		info.MaxMembers, info.FilesizeLimit, info.Description, info.Large,
		info.CreatedAt)
	return errors.Wrap(err, "set guild")
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS files (
		id int PRIMARY KEY AUTO_INCREMENT,
		file varchar(255),
		author varchar(255),
		author_name varchar(255),
		channel_id varchar(255),
		guild_id varchar(255),
		message_id varchar(255),
		file_name text,
		mimetype varchar(255),
		url text,
		size bigint,
		created_at datetime)`,

		`CREATE TABLE IF NOT EXISTS guilds (
		id int PRIMARY KEY AUTO_INCREMENT,
		guild varchar(255),
		name text,
		owner_id varchar(255),
		owner_name varchar(255),
		members int,
		max_members int,
		filesize_limit bigint,
		description text,
		large bool,
		created_at datetime)`,
	}
	return execlist(tx, s)
}

func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`ALTER TABLE files ADD COLUMN content text`,
		`ALTER TABLE files ADD UNIQUE INDEX files_file (file)`,
		`ALTER TABLE guilds ADD UNIQUE INDEX guilds_guild (guild)`,
	}
	return execlist(tx, s)
}

func mysqlschema3(tx migration.LimitedTx) error {
	var s = []string{
		`ALTER TABLE files ADD COLUMN height int DEFAULT -1`,
		`ALTER TABLE files ADD COLUMN width int DEFAULT -1`,
	}
	return execlist(tx, s)
}
