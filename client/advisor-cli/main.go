package main

import "BizAdvisor/client/advisor-cli/cmd"

func main() {
	cmd.Execute()
}
