// Haystackd is the attachment search and retrieval daemon. It fronts an
// external search index, filters results by channel permissions, serves
// file bytes with a local cache, and keeps an audit log of every command.
//
// Configuration is taken from a TOML file plus a few command line flags.
// Flags override the file.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	raven "github.com/getsentry/raven-go"

	"github.com/haystackers/haystack/assetcache"
	"github.com/haystackers/haystack/searchidx"
	"github.com/haystackers/haystack/server"
	"github.com/haystackers/haystack/store"
)

type config struct {
	Port       string
	PProfPort  string
	CacheDir   string
	CacheSize  int64 // in megabytes
	S3Bucket   string
	S3Prefix   string
	AWSRegion  string
	Mysql      string
	IndexURL   string
	IndexToken string
	GatewayURL string
	Tokenfile  string
	LogsDir    string
	DBName     string
	Logfile    string
	SentryDSN  string
	MaxExports int
}

func main() {
	var (
		configFile = flag.String("config-file", "", "location of TOML configuration file")
		showVer    = flag.Bool("version", false, "show version and exit")
		port       = flag.String("port", "", "port to listen on (overrides config file)")
	)
	flag.Parse()

	if *showVer {
		log.Printf("haystackd version %s", server.Version)
		return
	}

	var conf config
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalf("error reading %s: %s", *configFile, err)
		}
	}
	if *port != "" {
		conf.Port = *port
	}

	if conf.Logfile != "" {
		f, err := os.OpenFile(conf.Logfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("error opening %s: %s", conf.Logfile, err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if conf.SentryDSN != "" {
		raven.SetDSN(conf.SentryDSN)
	}

	var validator server.TokenValidator
	if conf.Tokenfile != "" {
		var err error
		validator, err = server.NewListValidatorFile(conf.Tokenfile)
		if err != nil {
			log.Fatalf("error reading %s: %s", conf.Tokenfile, err)
		}
	}

	// The asset cache usually lives in CacheDir; an S3 bucket can hold it
	// instead when local disk is scarce.
	var cache assetcache.Cache
	if conf.S3Bucket != "" {
		awsSession := session.Must(session.NewSession(
			aws.NewConfig().WithRegion(conf.AWSRegion)))
		s := store.NewS3(conf.S3Bucket, conf.S3Prefix, awsSession)
		c := assetcache.NewLRU(s, conf.CacheSize*1000000)
		go c.Scan()
		cache = c
	}

	s := &server.RESTServer{
		PortNumber: conf.Port,
		PProfPort:  conf.PProfPort,
		Index: &searchidx.Connection{
			HostURL: conf.IndexURL,
			Token:   conf.IndexToken,
		},
		Resolver:             newGatewayResolver(conf.GatewayURL),
		CacheDir:             conf.CacheDir,
		CacheSize:            conf.CacheSize * 1000000,
		Cache:                cache,
		MySQL:                conf.Mysql,
		Validator:            validator,
		LogsDir:              conf.LogsDir,
		DBName:               conf.DBName,
		MaxConcurrentExports: conf.MaxExports,
	}

	// shut down nicely on SIGINT and SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Stopping server")
		s.Stop()
	}()

	err := s.Run()
	if err != nil {
		log.Println(err)
	}
}
