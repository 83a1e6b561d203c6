// Package cli implements formulactl, the command-line client for formula sets.
//
// calc and check work locally on an in-memory store:
//
//	formulactl calc -text "a=10;b=20;c=[a]+[b]"
//	formulactl calc -file kpi.yaml -id margin -param cost=40 -param revenue=100
//	formulactl check -file kpi.yaml
//
// The other commands call a running server (-server or LIGHTINGBI_SERVER):
//
//	formulactl push -id sales -text "a=10;b=20;c=[a]+[b]"
//	formulactl push -file kpi.yaml
//	formulactl run -id sales -param a=1
//	formulactl tree -id sales
//	formulactl cycle -id sales
package cli
