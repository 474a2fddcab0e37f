package metadata

import (
	"database/sql"
	"log"

	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"
)

// qlStore implements Store on the QL embedded database. It is intended for
// development and testing, where running a MySQL server is overkill.
type qlStore struct {
	db *sql.DB
}

var _ Store = &qlStore{}

const qlFileInit = `
	CREATE TABLE IF NOT EXISTS files (
		file string,
		author string,
		author_name string,
		channel_id string,
		guild_id string,
		message_id string,
		file_name string,
		mimetype string,
		url string,
		size int64,
		height int,
		width int,
		content string,
		created_at time
	);
	CREATE INDEX IF NOT EXISTS filesfile ON files (file);
`

const qlGuildInit = `
	CREATE TABLE IF NOT EXISTS guilds (
		guild string,
		name string,
		owner_id string,
		owner_name string,
		members int,
		max_members int,
		filesize_limit int64,
		description string,
		large bool,
		created_at time
	);
	CREATE INDEX IF NOT EXISTS guildsguild ON guilds (guild);
`

// NewQl makes a QL-backed store saved in the given file. The special
// filename "memory" keeps everything in the process's memory.
func NewQl(filename string) (Store, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "metadata.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlFileInit)
	}
	if err == nil {
		_, err = performExec(db, qlGuildInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, errors.Wrap(err, "open ql")
	}
	return &qlStore{db: db}, nil
}

func (qs *qlStore) GetFile(id string) (*FileInfo, error) {
	const query = `
		SELECT author, author_name, channel_id, guild_id, message_id,
			file_name, mimetype, url, size, height, width, content,
			created_at
		FROM files
		WHERE file == ?1
		LIMIT 1`

	info := &FileInfo{ID: id}
	err := qs.db.QueryRow(query, id).Scan(
		&info.AuthorID, &info.AuthorName, &info.ChannelID, &info.GuildID,
		&info.MessageID, &info.Filename, &info.Mimetype, &info.URL,
		&info.Size, &info.Height, &info.Width, &info.Content,
		&info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "get file")
	}
	return info, nil
}

func (qs *qlStore) SetFile(info *FileInfo) error {
	const update = `
		UPDATE files
		SET author = ?2, author_name = ?3, channel_id = ?4, guild_id = ?5,
			message_id = ?6, file_name = ?7, mimetype = ?8, url = ?9,
			size = ?10, height = ?11, width = ?12, content = ?13,
			created_at = ?14
		WHERE file == ?1`
	const insert = `INSERT INTO files VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14)`

	return qlUpsert(qs.db, update, insert,
		info.ID, info.AuthorID, info.AuthorName, info.ChannelID,
		info.GuildID, info.MessageID, info.Filename, info.Mimetype,
		info.URL, info.Size, info.Height, info.Width, info.Content,
		info.CreatedAt)
}

func (qs *qlStore) DeleteFile(id string) error {
	_, err := performExec(qs.db, `DELETE FROM files WHERE file == ?1`, id)
	return errors.Wrap(err, "delete file")
}

func (qs *qlStore) SetGuild(info *GuildInfo) error {
	const update = `
		UPDATE guilds
		SET name = ?2, owner_id = ?3, owner_name = ?4, members = ?5,
			max_members = ?6, filesize_limit = ?7, description = ?8,
			large = ?9, created_at = ?10
		WHERE guild == ?1`
	const insert = `INSERT INTO guilds VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)`

	return qlUpsert(qs.db, update, insert,
		info.ID, info.Name, info.OwnerID, info.OwnerName, info.Members,
		info.MaxMembers, info.FilesizeLimit, info.Description, info.Large,
		info.CreatedAt)
}

// qlUpsert runs the update statement and falls back to the insert statement
// when no rows were changed. QL has no ON DUPLICATE KEY.
func qlUpsert(db *sql.DB, update, insert string, args ...interface{}) error {
	result, err := performExec(db, update, args...)
	if err != nil {
		return errors.Wrap(err, "upsert")
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "upsert")
	}
	if nrows == 0 {
		_, err = performExec(db, insert, args...)
	}
	return errors.Wrap(err, "upsert")
}

// performExec wraps an exec in a transaction, as QL requires.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
