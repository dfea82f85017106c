// Package relayddb builds the DynamoDB client used by the alternative
// connection-record store.
package relayddb

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// Config returns the aws config for DDBOpts.
func Config() *aws.Config {
	config := aws.NewConfig()
	if DDBOpts.Region != "" {
		config = config.WithRegion(DDBOpts.Region)
	}
	if DDBOpts.Endpoint != "" {
		config = config.WithEndpoint(DDBOpts.Endpoint)
	}
	return config
}

func DynamoDBAPI(s *session.Session) dynamodbiface.DynamoDBAPI {
	return dynamodb.New(s, Config())
}
