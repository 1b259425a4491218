package node

import "github.com/gin-gonic/gin"

// Node is a process that exposes an admin HTTP surface and a readiness bit
// its owner flips once the data plane is up.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	SetReady(ready bool)
	Ready() bool
}
