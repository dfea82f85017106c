package relayddb

import (
	relaycli "github.com/socialjobs/job-relay/relay-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	Endpoint string
	Region   string
}

var EndpointFlag = relaycli.StringFlag("ddb-endpoint", "DynamoDB endpoint override, e.g. a dynamodb-local instance", &DDBOpts.Endpoint)
var RegionFlag = relaycli.StringFlag("ddb-region", "DynamoDB region", &DDBOpts.Region, "us-east-2")

var DDBFlags = []cli.Flag{
	EndpointFlag,
	RegionFlag,
}
