// Package domain contains core domain types for the tripmate application.
package domain
