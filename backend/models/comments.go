package models

import "gorm.io/gorm"

type TestComment struct {
	gorm.Model
	TestID   uint
	UserID   uint
	UserName string
	Text     string
	Rating   int `gorm:"check:rating>=0 AND rating<=5"`
	Replies  []TestCommentReply
}

type TestCommentReply struct {
	gorm.Model
	CommentID uint
	UserID    uint
	UserName  string
	Text      string
}
