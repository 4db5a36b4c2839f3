package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserLoginKey returns the cache key holding a user's active login JTI.
func (r *CacheKeyStruct) UserLoginKey(userID string) string {
	return fmt.Sprintf("login:%s", userID)
}

// ExamMetaKey returns the cache key for an exam's catalog record.
func (r *CacheKeyStruct) ExamMetaKey(examID string) string {
	return fmt.Sprintf("exam:%s:meta", examID)
}

// ExamObjectivesKey returns the cache key for an exam's objective list.
func (r *CacheKeyStruct) ExamObjectivesKey(examID string) string {
	return fmt.Sprintf("exam:%s:objectives", examID)
}

var CacheKey = NewCacheKeyStruct()
