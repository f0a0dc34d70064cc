//go:build !unix

package store

func isNoSpace(error) bool { return false }

func isReadOnly(error) bool { return false }
