package db

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// IsDuplicateKeyError is a function that checks if an error is a duplicate key error.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// ErrDuplicateID is returned by in-memory stores when a freshly generated id is already taken.
var ErrDuplicateID = errors.New("duplicate id")

// Try executes an operation with default retry settings for duplicate key errors.
// It uses DefaultMaxRetries and IsAnyDuplicateKeyError.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsAnyDuplicateKeyError)
}

// WithRetries executes an operation with a retry mechanism for duplicate key errors.
// It attempts the operation up to maxRetries+1 times; any other error is returned immediately.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if attempt == maxRetries {
			break
		}

		if isDuplicateKey(err) {
			time.Sleep(time.Duration(attempt+1) * time.Millisecond) // Simple incremental backoff
		} else {
			return err
		}
	}
	return err
}

// IsAnyDuplicateKeyError matches both store-level id collisions and MongoDB duplicate keys.
func IsAnyDuplicateKeyError(err error) bool {
	return errors.Is(err, ErrDuplicateID) || IsMongoDuplicateKeyError(err)
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, writeError := range bwe.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}
