package binlog

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// test flags ---

var (
	mysql            = flag.String("mysql", "", "mysql server used for testing")
	network, address string
	user, passwd     string
	db               = "binlog"
	ssl              bool
	driverURL        string

	skipReason = `SKIPPED: pass -mysql flag to run this test
example: go test -mysql tcp:localhost:3306,ssl,user=root,password=password,db=binlog
`
)

func TestMain(m *testing.M) {
	flag.Parse()
	if *mysql != "" {
		colon := strings.IndexByte(*mysql, ':')
		network, address = (*mysql)[:colon], (*mysql)[colon+1:]
		tok := strings.Split(address, ",")
		address = tok[0]
		for _, t := range tok[1:] {
			switch {
			case t == "ssl":
				ssl = true
			case strings.HasPrefix(t, "user="):
				user = strings.TrimPrefix(t, "user=")
			case strings.HasPrefix(t, "password="):
				passwd = strings.TrimPrefix(t, "password=")
			case strings.HasPrefix(t, "db="):
				db = strings.TrimPrefix(t, "db=")
			}
		}
		tlsMode := "false"
		if ssl {
			tlsMode = "skip-verify"
		}
		timezone := url.QueryEscape(time.Now().Format("'-07:00'"))
		driverURL = fmt.Sprintf("%s:%s@%s(%s)/%s?tls=%v&time_zone=%s", user, passwd, network, address, db, tlsMode, timezone)
	}
	os.Exit(m.Run())
}

func testDSN() string {
	sslMode := "DISABLED"
	if ssl {
		sslMode = "REQUIRED"
	}
	return fmt.Sprintf("mysql://%s:%s@%s/%s?gtid_enabled=false&ssl-mode=%s", user, passwd, address, db, sslMode)
}

func TestClient_Authenticate(t *testing.T) {
	if *mysql == "" {
		t.Skip(skipReason)
	}
	cfg, err := ParseConfig(testDSN())
	if err != nil {
		t.Fatal(err)
	}
	c, err := Connect(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.queryRows("show databases"); err != nil {
		t.Fatal(err)
	}
}
