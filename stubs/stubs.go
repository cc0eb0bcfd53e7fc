package stubs

var Subscribe = "Hub.Subscribe"
var Send = "Hub.Send"
var Recv = "Hub.Recv"
var Gather = "Hub.Gather"
var Barrier = "Hub.Barrier"
var Leave = "Hub.Leave"

type Subscription struct {
	Rank      int
	Size      int
	Signature string
}

type StatusReport struct {
	Message string
}

// RowMessage carries one row buffer between a remote rank and the hub.
type RowMessage struct {
	Src  int
	Dest int
	Tag  int
	Row  []int
}

type RecvRequest struct {
	Rank int
	Src  int
	Tag  int
}

type GatherRequest struct {
	Rank int
	Root int
	Tag  int
	Row  []int
}

type GatherResponse struct {
	Rows [][]int
}

type RankRequest struct {
	Rank int
}
