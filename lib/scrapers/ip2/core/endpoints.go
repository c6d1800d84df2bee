package core

// Relative endpoint paths of the IP2 web application. The integration is
// only valid against one specific remote version; field names and paths
// mirror what its server-rendered pages expect.
const (
	EndpointLogin             = "ip2/j_security_check"
	EndpointLogout            = "ip2/logout.jsp"
	EndpointExperiment        = "ip2/eachExperiment.html"
	EndpointAddExperiment     = "ip2/saveExperiment.html"
	EndpointDeleteExperiment  = "ip2/deleteExperiment.html"
	EndpointExperimentList    = "ip2/viewExperiment.html"
	EndpointAddProject        = "ip2/addProject.html"
	EndpointDeleteProject     = "ip2/deleteProject.html"
	EndpointProjectList       = "ip2/viewProject.html"
	EndpointFileUpload        = "ip2/fileUploadAction.html"
	EndpointConvertorStatus   = "ip2/dwr/call/plaincall/FileUploadAction.checkRawConvertorStatus.dwr"
	EndpointServerMd5         = "ip2/dwr/call/plaincall/FileUploadAction.getMd5ServerMd5Value.dwr"
	EndpointJobStatus         = "ip2/dwr/call/plaincall/JobMonitor.getSearchJobStatus.dwr"
	EndpointProlucidForm      = "ip2/prolucidProteinForm.html"
	EndpointProlucidSearch    = "ip2/prolucidProteinId.html"
	EndpointDatabaseList      = "ip2/databaseView.html"
	EndpointAddDatabase       = "ip2/addDatabase.html"
	EndpointUploadDatabase    = "ip2/addDatabaseAction.html"
	EndpointDeleteDatabase    = "ip2/deleteDatabase.html"
	EndpointDatabasesForUser  = "ip2/dwr/call/plaincall/SearchProlucidAction.getProteinDbForUser.dwr"
	EndpointAddDatabaseSource = "ip2/newDbSource.html"
	EndpointAddOrganism       = "ip2/newOrganism.html"
	EndpointAddInstrument     = "ip2/newInstrument.html"
	EndpointDwrEngine         = "ip2/dwr/engine.js"
	EndpointJobStatusPage     = "/ip2/jobstatus.html"
)
