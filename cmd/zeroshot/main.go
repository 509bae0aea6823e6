// Command zeroshot starts, stops, kills, resumes, and watches clusters
// of cooperating autonomous agents.
package main

import "github.com/sjennings/zeroshot-sub001/internal/cmd"

func main() {
	cmd.Execute()
}
