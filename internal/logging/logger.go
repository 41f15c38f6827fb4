package logging

import (
	"log"
	"os"
)

var (
	HTTP     = log.New(os.Stdout, "[http] ", log.LstdFlags)
	Security = log.New(os.Stdout, "[security] ", log.LstdFlags)
	Storage  = log.New(os.Stdout, "[storage] ", log.LstdFlags)
	Metadata = log.New(os.Stdout, "[metadata] ", log.LstdFlags)
	Notify   = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
)
