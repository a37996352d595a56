package journal

import (
	"cmp"
	"net"
	"net/url"
	"strconv"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option locates the journal database.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// Open connects to PostgreSQL and migrates the journal tables.
func Open(option Option) (*Journal, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open journal database")
	}

	j := New(db)
	if err := j.Migrate(); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// dsn renders the connection URL. ConnString wins over the discrete fields.
func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	port := cmp.Or(opt.Port, defaultPostgresPort)
	if port < 0 || port > 65535 {
		return "", errors.Errorf("journal: invalid port %d", port)
	}

	q := make(url.Values, len(opt.Params)+1)
	for k, v := range opt.Params {
		if k != "" {
			q.Set(k, v)
		}
	}
	q.Set("sslmode", cmp.Or(opt.SSLMode, q.Get("sslmode"), defaultPostgresSSLMode))

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cmp.Or(opt.Host, defaultPostgresHost), strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	return u.String(), nil
}
