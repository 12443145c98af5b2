package tool

// Local tool names exposed to the agent.
const (
	PlanTasks                  = "plan_tasks"
	UpdateTaskStatus           = "update_task_status"
	GetPlanStatus              = "get_plan_status"
	GetCurrentWorkflowForAgent = "get_current_workflow_for_agent"
	SaveWorkflow               = "save_workflow"
	ValidateWorkflow           = "validate_workflow"
	ExecuteWorkflow            = "execute_workflow"
	CheckExecutionResult       = "check_execution_result"
	SearchNodes                = "search_nodes"
	GetNodeDetails             = "get_node_details"
	ListAvailableModels        = "list_available_models"
)

// ConstrainedSet is the reduced tool list for providers with tight token limits.
var ConstrainedSet = []string{
	PlanTasks,
	GetCurrentWorkflowForAgent,
	SaveWorkflow,
	SearchNodes,
	GetNodeDetails,
	ListAvailableModels,
}

// FullSet is the tool list for unconstrained providers, in prompt order.
var FullSet = []string{
	PlanTasks,
	UpdateTaskStatus,
	GetPlanStatus,
	GetCurrentWorkflowForAgent,
	SaveWorkflow,
	ValidateWorkflow,
	ExecuteWorkflow,
	CheckExecutionResult,
	SearchNodes,
	GetNodeDetails,
	ListAvailableModels,
}

// SetFor returns the tool names for the provider capability.
func SetFor(constrained bool) []string {
	if constrained {
		return ConstrainedSet
	}
	return FullSet
}
