// Package common provides helpers shared by tool implementations.
package common
